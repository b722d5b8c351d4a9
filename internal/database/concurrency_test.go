package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicbook/internal/models"
	"clinicbook/internal/schedule"
)

var errTaken = errors.New("slot taken")

// Without any application lock, IMMEDIATE transactions alone must keep
// check-then-insert atomic across connections.
func TestConcurrentCheckAndInsert(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	patient := createPatient(t, db, "t1", "5511999999999")

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			results <- db.InTx(ctx, func(tx *Tx) error {
				existing, err := tx.ScopeIntervals(ctx, Scope{TenantID: "t1"}, nine, nine.Add(30*time.Minute), "")
				if err != nil {
					return err
				}
				if schedule.HasConflict(nine, 30, existing) {
					return errTaken
				}
				return tx.InsertBooking(ctx, &models.Booking{
					TenantID:    "t1",
					PatientID:   patient.ID,
					ServiceName: "Consulta",
					Start:       nine,
					Duration:    30,
					Status:      models.StatusConfirmed,
				}, stampedAt)
			})
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
			continue
		}
		assert.ErrorIs(t, err, errTaken)
	}
	assert.Equal(t, 1, successCount)

	intervals, err := db.ScopeIntervals(ctx, Scope{TenantID: "t1"}, nine, nine.Add(30*time.Minute), "")
	require.NoError(t, err)
	assert.Len(t, intervals, 1)
}
