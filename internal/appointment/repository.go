package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrSlotNotFound           = errors.New("slot not found")
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAppointmentBusy        = errors.New("appointment is being modified, please retry")
)

// AvailabilityStore is the source of truth for which slots are bookable.
type AvailabilityStore interface {
	// Publish adds slots for a doctor on a date. Existing slots keep their
	// claimed state.
	Publish(ctx context.Context, doctorID, date string, times []string) ([]Slot, error)
	PublishedSlots(ctx context.Context, doctorID, date string) ([]Slot, error)
	// Withdraw removes a free slot from the schedule.
	Withdraw(ctx context.Context, key SlotKey) error

	IsFree(ctx context.Context, key SlotKey) (bool, error)
	// Claim is a compare-and-swap from free to claimed. It fails with
	// ErrSlotUnavailable when the slot is claimed or was never published.
	Claim(ctx context.Context, key SlotKey) (SlotHandle, error)
	// Release is idempotent.
	Release(ctx context.Context, key SlotKey) error
}

// Repository holds appointment records. Records are never deleted.
type Repository interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate reads the record and, inside a transaction, locks it until
	// commit.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, appt *Appointment) error

	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error)
	ListByHospital(ctx context.Context, hospitalID string) ([]Appointment, error)
}

// Transactor makes a group of store writes one atomic unit.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientDirectory and DoctorDirectory are owned outside the booking engine.
type PatientDirectory interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
}

type DoctorDirectory interface {
	DoctorExists(ctx context.Context, doctorID string) (bool, error)
}
