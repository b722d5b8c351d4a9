package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	callCount := 0
	bus.Subscribe(func(event *Event) error {
		received = event
		callCount++
		return nil
	}, EventBookingCreated, EventBookingCancelled)

	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.PublishJSON(EventBookingCreated, BookingEventPayload{
		BookingID: "b1", TenantID: "t1", Status: "confirmed", Start: start, Duration: 30,
	}))

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventBookingCreated, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "b1", decoded.BookingID)
	assert.True(t, start.Equal(decoded.Start))
	assert.Nil(t, decoded.PreviousStart)

	require.NoError(t, bus.PublishJSON(EventBookingCancelled, map[string]string{"booking_id": "b1"}))
	assert.Equal(t, 2, callCount)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	called := 0

	bus.Subscribe(func(_ *Event) error { return boom }, "event")
	bus.Subscribe(func(_ *Event) error { called++; return nil }, "event")

	err := bus.Publish(&Event{Type: "event"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, called, "later handlers still run")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.Publish(&Event{Type: "unknown"}))
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON(EventBookingCreated, nil))
}
