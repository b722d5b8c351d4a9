package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicbook/internal/models"
)

type mockReminderStore struct {
	mock.Mock
}

func (m *mockReminderStore) InsertReminders(ctx context.Context, reminders []*models.Reminder, at time.Time) error {
	args := m.Called(ctx, reminders, at)
	return args.Error(0)
}

func (m *mockReminderStore) CancelPendingReminders(ctx context.Context, bookingID string, at time.Time) (int64, error) {
	args := m.Called(ctx, bookingID, at)
	return args.Get(0).(int64), args.Error(1)
}

func TestReminderScheduler(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, saoPaulo)
	scheduler := NewReminderScheduler(&fakeClock{now: now}, &logger)
	tenant := testTenant(t)
	booking := &models.Booking{ID: "b1", Start: monday(9, 0), Duration: 30}

	t.Run("BothTypes", func(t *testing.T) {
		planned := scheduler.Plan(tenant, booking)
		require.Len(t, planned, 2)
		assert.Equal(t, models.Reminder24h, planned[0].Type)
		assert.Equal(t, models.Reminder1h, planned[1].Type)
		assert.Equal(t, time.UTC, planned[0].ScheduledFor.Location())
		assert.Equal(t, models.ReminderPending, planned[1].Status)
	})

	t.Run("TriggerMustBeStrictlyAfterNow", func(t *testing.T) {
		exactlyOneHour := &models.Booking{ID: "b2", Start: now.Add(time.Hour), Duration: 30}
		assert.Empty(t, scheduler.Plan(tenant, exactlyOneHour))

		tomorrow := &models.Booking{ID: "b3", Start: now.Add(25 * time.Hour), Duration: 30}
		planned := scheduler.Plan(tenant, tomorrow)
		require.Len(t, planned, 2)

		soon := &models.Booking{ID: "b4", Start: now.Add(2 * time.Hour), Duration: 30}
		planned = scheduler.Plan(tenant, soon)
		require.Len(t, planned, 1)
		assert.Equal(t, models.Reminder1h, planned[0].Type)
	})

	t.Run("Disabled", func(t *testing.T) {
		off := *tenant
		off.Reminders.Enabled = false
		assert.Empty(t, scheduler.Plan(&off, booking))

		store := new(mockReminderStore)
		reminders, err := scheduler.Schedule(context.Background(), store, &off, booking)
		require.NoError(t, err)
		assert.Empty(t, reminders)
		store.AssertNotCalled(t, "InsertReminders", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Confirmation", func(t *testing.T) {
		withConfirmation := *tenant
		withConfirmation.Reminders.Confirmation = true
		withConfirmation.Reminders.HourBefore = false
		planned := scheduler.Plan(&withConfirmation, booking)
		require.Len(t, planned, 2)
		assert.Equal(t, models.ReminderConfirmation, planned[1].Type)
		assert.True(t, now.Equal(planned[1].ScheduledFor))
	})

	t.Run("ScheduleInsertsAtOnce", func(t *testing.T) {
		store := new(mockReminderStore)
		store.On("InsertReminders", mock.Anything, mock.MatchedBy(func(r []*models.Reminder) bool {
			return len(r) == 2
		}), now).Return(nil).Once()

		reminders, err := scheduler.Schedule(context.Background(), store, tenant, booking)
		require.NoError(t, err)
		assert.Len(t, reminders, 2)
		store.AssertExpectations(t)
	})

	t.Run("ScheduleError", func(t *testing.T) {
		store := new(mockReminderStore)
		store.On("InsertReminders", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

		_, err := scheduler.Schedule(context.Background(), store, tenant, booking)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("CancelForBooking", func(t *testing.T) {
		store := new(mockReminderStore)
		store.On("CancelPendingReminders", mock.Anything, "b1", now).Return(int64(2), nil).Once()
		store.On("CancelPendingReminders", mock.Anything, "b1", now).Return(int64(0), nil).Once()

		n, err := scheduler.CancelForBooking(context.Background(), store, "b1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = scheduler.CancelForBooking(context.Background(), store, "b1")
		require.NoError(t, err)
		assert.Zero(t, n)
		store.AssertExpectations(t)
	})
}
