package locking

import (
	"errors"
	"slices"
)

// ErrLockTimeout is returned when a scope stays held by someone else until
// the caller's context is done.
var ErrLockTimeout = errors.New("timed out waiting for booking scope lock")

// TenantKey is the lock key of the tenant-wide bucket.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// ProfessionalKey is the lock key of one professional's schedule.
func ProfessionalKey(tenantID, professionalID string) string {
	return "tenant:" + tenantID + ":pro:" + professionalID
}

// ordered sorts and dedupes keys. Every locker acquires in this order so two
// callers locking overlapping sets cannot deadlock.
func ordered(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
