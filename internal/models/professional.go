package models

import "time"

// Professional is a bookable resource of a tenant.
type Professional struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone,omitempty"`
	Specialty string       `json:"specialty,omitempty"`
	Active    bool         `json:"active"`
	IsDefault bool         `json:"is_default"`
	Hours     *WeeklyHours `json:"-"` // nil inherits tenant hours
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
