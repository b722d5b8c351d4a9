package domain

import (
	"context"
	"time"

	"clinicbook/internal/models"
)

// Messenger delivers a text to a patient phone on behalf of a tenant.
type Messenger interface {
	Send(ctx context.Context, tenantID, phone, text string) error
}

// EventPublisher publishes booking lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Locker serializes work on booking scopes. Keys are locked in sorted order
// and released by the returned function.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// TenantDirectory looks up prepared tenant configuration.
type TenantDirectory interface {
	Tenant(id string) (*models.Tenant, bool)
}

// Clock is injected wherever "now" matters.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
