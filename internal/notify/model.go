// Package notify turns committed appointment events into patient-facing side
// effects: in-app notifications, dated reminders, confirmation messages and
// an append-only event log.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking-engine/internal/directory"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrReminderNotFound     = errors.New("reminder not found")
)

type Notification struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reminder is due on RemindOn. Date and Time record the slot it was created
// for. Only the newest reminder of an appointment is ever sent. A failed send
// bumps Attempts and waits until NextAttemptAt.
type Reminder struct {
	ID            uuid.UUID  `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     string     `json:"patient_id"`
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	RemindOn      string     `json:"remind_on"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	CreatedAt     time.Time  `json:"created_at"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// DueQuery selects undelivered reminders due on or before Day whose retry
// time has passed at Now and which have been tried fewer than MaxAttempts
// times. Reminders never tried come first.
type DueQuery struct {
	Day         string
	Now         time.Time
	MaxAttempts int
	Limit       int
}

type EventLog struct {
	EventID       uuid.UUID
	EventType     string
	AppointmentID uuid.UUID
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// NotificationStore persists notifications. Saving twice for one event id
// keeps the first.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n Notification) error
	NotificationsByPatient(ctx context.Context, patientID string) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// ReminderStore persists reminders. Saving twice for one event id keeps the
// first.
type ReminderStore interface {
	SaveReminder(ctx context.Context, r Reminder) error
	RemindersByPatient(ctx context.Context, patientID string) ([]Reminder, error)
	LatestReminder(ctx context.Context, appointmentID uuid.UUID) (Reminder, error)
	DueReminders(ctx context.Context, q DueQuery) ([]Reminder, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, next time.Time) error
}

type EventLogStore interface {
	AppendEvent(ctx context.Context, e EventLog) error
}

// ContactBook resolves how to reach a patient. ok is false for unknown
// patients.
type ContactBook interface {
	Contact(ctx context.Context, patientID string) (c directory.Contact, ok bool, err error)
}
