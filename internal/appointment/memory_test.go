package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Publish(ctx, "D1", "2025-10-20", []string{"09:00", "09:30"})
	require.NoError(t, err)

	key := SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}
	free, err := m.IsFree(ctx, key)
	require.NoError(t, err)
	assert.True(t, free)

	h, err := m.Claim(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, h.Key)

	_, err = m.Claim(ctx, key)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	require.NoError(t, m.Release(ctx, key))
	require.NoError(t, m.Release(ctx, key), "release is idempotent")

	free, err = m.IsFree(ctx, key)
	require.NoError(t, err)
	assert.True(t, free)
}

func TestMemoryClaimUnpublished(t *testing.T) {
	m := NewMemoryStore()
	key := SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}

	_, err := m.Claim(context.Background(), key)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	free, err := m.IsFree(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, free)
}

func TestMemoryPublishKeepsClaimedState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Publish(ctx, "D1", "2025-10-20", []string{"10:00"})
	require.NoError(t, err)
	_, err = m.Claim(ctx, SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "10:00"})
	require.NoError(t, err)

	slots, err := m.Publish(ctx, "D1", "2025-10-20", []string{"10:00", "08:00"})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.False(t, slots[0].Free)
	assert.True(t, slots[1].Free)

	listed, err := m.PublishedSlots(ctx, "D1", "2025-10-20")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "08:00", listed[0].Time)
	assert.Equal(t, "10:00", listed[1].Time)
}

func TestMemoryWithdraw(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Publish(ctx, "D1", "2025-10-20", []string{"09:00", "10:00"})
	require.NoError(t, err)

	booked := SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "10:00"}
	_, err = m.Claim(ctx, booked)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Withdraw(ctx, booked), ErrSlotUnavailable)
	assert.NoError(t, m.Withdraw(ctx, SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}))
	assert.ErrorIs(t, m.Withdraw(ctx, SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}), ErrSlotNotFound)
}

func TestMemoryAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Publish(ctx, "D1", "2025-10-20", []string{"09:00"})
	require.NoError(t, err)
	key := SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}

	boom := errors.New("boom")
	id := uuid.New()
	err = m.Atomic(ctx, func(ctx context.Context) error {
		if _, err := m.Claim(ctx, key); err != nil {
			return err
		}
		if err := m.Create(ctx, newAppt(id, key, StatusUpcoming)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	free, err := m.IsFree(ctx, key)
	require.NoError(t, err)
	assert.True(t, free, "claim undone")

	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound, "create undone")
}

func TestMemoryActiveSlotIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	key := SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}

	first := newAppt(uuid.New(), key, StatusUpcoming)
	require.NoError(t, m.Create(ctx, first))

	err := m.Create(ctx, newAppt(uuid.New(), key, StatusPending))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	first.Status = StatusCancelled
	require.NoError(t, m.Update(ctx, first))

	require.NoError(t, m.Create(ctx, newAppt(uuid.New(), key, StatusPending)))
}

func TestMemoryUpdateUnknown(t *testing.T) {
	m := NewMemoryStore()
	err := m.Update(context.Background(), newAppt(uuid.New(), SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}, StatusUpcoming))
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	a := newAppt(uuid.New(), SlotKey{DoctorID: "D1", Date: "2025-10-20", Time: "09:00"}, StatusUpcoming)
	require.NoError(t, m.Create(ctx, a))

	got, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	got.Status = StatusCompleted

	again, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, again.Status)
}

func TestMemoryListsAreOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	hosp := "H1"

	late := newAppt(uuid.New(), SlotKey{DoctorID: "D1", Date: "2025-10-21", Time: "09:00"}, StatusUpcoming)
	early := newAppt(uuid.New(), SlotKey{DoctorID: "D2", Date: "2025-10-20", Time: "11:00"}, StatusPending)
	early.HospitalID = &hosp
	require.NoError(t, m.Create(ctx, late))
	require.NoError(t, m.Create(ctx, early))

	byPatient, err := m.ListByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, byPatient, 2)
	assert.Equal(t, early.ID, byPatient[0].ID)

	byDoctor, err := m.ListByDoctor(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, byDoctor, 1)

	byHospital, err := m.ListByHospital(ctx, "H1")
	require.NoError(t, err)
	require.Len(t, byHospital, 1)
	assert.Equal(t, early.ID, byHospital[0].ID)

	none, err := m.ListByHospital(ctx, "H9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func newAppt(id uuid.UUID, key SlotKey, status Status) *Appointment {
	now := time.Now().UTC()
	return &Appointment{
		ID:        id,
		PatientID: "P1",
		DoctorID:  key.DoctorID,
		Kind:      KindVideo,
		Date:      key.Date,
		Time:      key.Time,
		Status:    status,
		Reason:    "checkup",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
