package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/config"
	"github.com/hackgods/healthcare-booking-engine/internal/directory"
)

func memoryConfig() config.Config {
	return config.Config{
		StoreBackend:   config.StoreMemory,
		LockBackend:    config.LockLocal,
		ReminderLead:   1,
		DispatchBuffer: 8,
	}
}

func TestBuildMemoryEngine(t *testing.T) {
	ctx := context.Background()
	e, err := Build(ctx, memoryConfig(), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer e.Close(time.Second)

	assert.Empty(t, e.Checks)
	require.NoError(t, e.Directory.UpsertPatient(ctx, directory.Patient{ID: "P1", Name: "Ada", Phone: "+1555"}))

	_, err = e.Service.PublishSlots(ctx, "D1", "2025-10-20", []string{"09:00"})
	require.NoError(t, err)
	_, err = e.Service.Book(ctx, appointment.BookRequest{
		PatientID: "P1", DoctorID: "D1", Kind: appointment.KindChat, Date: "2025-10-20", Time: "09:00", Reason: "follow-up",
	})
	require.NoError(t, err)

	notes, err := e.Notify.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	report, err := e.Reminders.DeliverDue(ctx, time.Date(2025, 10, 19, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}

func TestBuildAsyncDispatchDrainsOnClose(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.DispatchAsync = true

	e, err := Build(ctx, cfg, nil, nil)
	require.NoError(t, err)

	_, err = e.Service.PublishSlots(ctx, "D1", "2025-10-20", []string{"09:00"})
	require.NoError(t, err)
	_, err = e.Service.Book(ctx, appointment.BookRequest{
		PatientID: "P1", DoctorID: "D1", Date: "2025-10-20", Time: "09:00", Reason: "follow-up",
	})
	require.NoError(t, err)

	e.Close(time.Second)

	reminders, err := e.Notify.RemindersByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Len(t, reminders, 1)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "sqlite"
	_, err := Build(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestRunRemindersStopsOnCancel(t *testing.T) {
	e, err := Build(context.Background(), memoryConfig(), nil, nil)
	require.NoError(t, err)
	defer e.Close(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.RunReminders(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reminder loop did not stop")
	}
}

func TestBuildRedisLockerClosesClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.LockBackend = config.LockRedis
	cfg.RedisAddr = mr.Addr()
	cfg.LockTTL = time.Second

	e, err := Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, e.Checks, 1)
	assert.Equal(t, "redis", e.Checks[0].Name)
	require.NoError(t, e.Checks[0].Ping(context.Background()))

	e.Close(time.Second)
	assert.Error(t, e.Checks[0].Ping(context.Background()))
}

func TestBuildFailsWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig()
	cfg.LockBackend = config.LockRedis
	cfg.RedisAddr = addr

	e, err := Build(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Nil(t, e)
}
