package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
)

// AppointmentLookup is the read side ReminderService needs.
type AppointmentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// ReminderService sends due reminders by SMS. Failed sends are retried with
// exponential backoff until maxAttempts.
type ReminderService struct {
	reminders   ReminderStore
	appts       AppointmentLookup
	contacts    ContactBook
	sink        MessageSink
	log         *zap.Logger
	metrics     *metrics.Collector
	batch       int
	maxAttempts int
	baseDelay   time.Duration
}

func NewReminderService(reminders ReminderStore, appts AppointmentLookup, contacts ContactBook, sink MessageSink, log *zap.Logger, m *metrics.Collector) *ReminderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReminderService{
		reminders:   reminders,
		appts:       appts,
		contacts:    contacts,
		sink:        sink,
		log:         log,
		metrics:     m,
		batch:       100,
		maxAttempts: 5,
		baseDelay:   5 * time.Minute,
	}
}

type DeliveryReport struct {
	Sent    int
	Skipped int
	Failed  int
}

// DeliverDue sends every undelivered reminder due on or before now's date,
// batch by batch. A reminder is skipped (marked delivered without sending)
// when a newer reminder exists for its appointment, or when the appointment
// is no longer active or sits on another slot. A failed send is retried on a
// later run once its backoff has passed.
func (s *ReminderService) DeliverDue(ctx context.Context, now time.Time) (DeliveryReport, error) {
	var report DeliveryReport
	q := DueQuery{
		Day:         now.Format(appointment.DateLayout),
		Now:         now.UTC(),
		MaxAttempts: s.maxAttempts,
		Limit:       s.batch,
	}

	seen := make(map[uuid.UUID]bool)
	for {
		due, err := s.reminders.DueReminders(ctx, q)
		if err != nil {
			return report, fmt.Errorf("load due reminders: %w", err)
		}

		progressed := false
		for _, r := range due {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			// A reminder whose bookkeeping write failed comes back in the
			// next batch.
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			progressed = true

			outcome, err := s.deliver(ctx, r, now)
			s.metrics.ObserveReminder(outcome)
			switch outcome {
			case "sent":
				report.Sent++
			case "skipped":
				report.Skipped++
			default:
				report.Failed++
				s.log.Warn("reminder delivery failed",
					zap.Stringer("reminder_id", r.ID),
					zap.Stringer("appointment_id", r.AppointmentID),
					zap.Int("attempt", r.Attempts+1),
					zap.Error(err),
				)
			}
		}

		if !progressed || len(due) < s.batch {
			return report, nil
		}
	}
}

func (s *ReminderService) deliver(ctx context.Context, r Reminder, now time.Time) (string, error) {
	latest, err := s.reminders.LatestReminder(ctx, r.AppointmentID)
	if err != nil {
		return s.retry(ctx, r, now, err)
	}
	if latest.ID != r.ID {
		return s.markDelivered(ctx, r, now, "skipped")
	}

	appt, err := s.appts.Get(ctx, r.AppointmentID)
	if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
		return s.retry(ctx, r, now, err)
	}
	if err != nil || !appt.Status.Active() || appt.Date != r.Date || appt.Time != r.Time {
		return s.markDelivered(ctx, r, now, "skipped")
	}

	contact, found, err := s.contacts.Contact(ctx, r.PatientID)
	if err != nil {
		return s.retry(ctx, r, now, err)
	}
	if !found || contact.Phone == "" {
		return s.markDelivered(ctx, r, now, "skipped")
	}

	err = s.sink.Send(ctx, Message{
		Channel: ChannelSMS,
		To:      contact.Phone,
		Name:    contact.Name,
		Body:    reminderSMS(r),
	})
	if err != nil {
		return s.retry(ctx, r, now, err)
	}
	return s.markDelivered(ctx, r, now, "sent")
}

// retry records a failed attempt and pushes the reminder back by the backoff
// delay. The original cause is returned.
func (s *ReminderService) retry(ctx context.Context, r Reminder, now time.Time, cause error) (string, error) {
	if r.Attempts+1 >= s.maxAttempts {
		s.log.Error("giving up on reminder",
			zap.Stringer("reminder_id", r.ID),
			zap.String("patient_id", r.PatientID),
			zap.Int("attempts", r.Attempts+1),
		)
	}
	if err := s.reminders.ScheduleRetry(ctx, r.ID, now.UTC().Add(s.nextDelay(r.Attempts))); err != nil {
		return "failed", errors.Join(cause, err)
	}
	return "failed", cause
}

func (s *ReminderService) nextDelay(attempts int) time.Duration {
	attempts = min(attempts, 16)
	delay := s.baseDelay * time.Duration(1<<attempts)
	if delay > 24*time.Hour {
		delay = 24 * time.Hour
	}
	return delay
}

func (s *ReminderService) markDelivered(ctx context.Context, r Reminder, now time.Time, outcome string) (string, error) {
	if err := s.reminders.MarkDelivered(ctx, r.ID, now.UTC()); err != nil {
		return "failed", err
	}
	return outcome, nil
}
