package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
)

// NotificationDispatcher stores one in-app notification per booked,
// approved, rescheduled or cancelled event.
type NotificationDispatcher struct {
	store NotificationStore
	now   func() time.Time
}

func NewNotificationDispatcher(store NotificationStore) *NotificationDispatcher {
	return &NotificationDispatcher{store: store, now: time.Now}
}

func (d *NotificationDispatcher) Name() string { return "notification" }

func (d *NotificationDispatcher) Handle(ctx context.Context, ev appointment.Event) error {
	typ, text, ok := notificationText(ev)
	if !ok {
		return nil
	}
	return d.store.SaveNotification(ctx, Notification{
		ID:            uuid.New(),
		EventID:       ev.ID,
		AppointmentID: ev.Appointment.ID,
		PatientID:     ev.Appointment.PatientID,
		Type:          typ,
		Message:       text,
		CreatedAt:     d.now().UTC(),
	})
}

// ReminderDispatcher schedules a reminder leadDays before the appointment
// for booked and rescheduled events.
type ReminderDispatcher struct {
	store    ReminderStore
	leadDays int
	now      func() time.Time
}

func NewReminderDispatcher(store ReminderStore, leadDays int) *ReminderDispatcher {
	if leadDays < 0 {
		leadDays = 0
	}
	return &ReminderDispatcher{store: store, leadDays: leadDays, now: time.Now}
}

func (d *ReminderDispatcher) Name() string { return "reminder" }

func (d *ReminderDispatcher) Handle(ctx context.Context, ev appointment.Event) error {
	if ev.Type != appointment.EventBooked && ev.Type != appointment.EventRescheduled {
		return nil
	}
	key := ev.Appointment.Slot()
	remindOn := key.Start().AddDate(0, 0, -d.leadDays)

	return d.store.SaveReminder(ctx, Reminder{
		ID:            uuid.New(),
		EventID:       ev.ID,
		AppointmentID: ev.Appointment.ID,
		PatientID:     ev.Appointment.PatientID,
		Type:          "appointment",
		Message:       reminderText(ev.Type, key),
		RemindOn:      remindOn.Format(appointment.DateLayout),
		Date:          key.Date,
		Time:          key.Time,
		CreatedAt:     d.now().UTC(),
	})
}

// ConfirmationSender emails the patient on booked, rescheduled and
// cancelled events. Patients without an email address are skipped.
type ConfirmationSender struct {
	contacts ContactBook
	sink     MessageSink
	log      *zap.Logger
}

func NewConfirmationSender(contacts ContactBook, sink MessageSink, log *zap.Logger) *ConfirmationSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfirmationSender{contacts: contacts, sink: sink, log: log}
}

func (c *ConfirmationSender) Name() string { return "confirmation" }

func (c *ConfirmationSender) Handle(ctx context.Context, ev appointment.Event) error {
	if _, _, ok := confirmationEmail(ev, ""); !ok {
		return nil
	}

	contact, found, err := c.contacts.Contact(ctx, ev.Appointment.PatientID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if !found || contact.Email == "" {
		c.log.Debug("no email on file, confirmation skipped",
			zap.String("patient_id", ev.Appointment.PatientID),
			zap.String("event", string(ev.Type)),
		)
		return nil
	}

	subject, body, _ := confirmationEmail(ev, contact.Name)
	return c.sink.Send(ctx, Message{
		Channel: ChannelEmail,
		To:      contact.Email,
		Name:    contact.Name,
		Subject: subject,
		Body:    body,
	})
}

// EventLogDispatcher appends every event to the event log.
type EventLogDispatcher struct {
	store EventLogStore
}

func NewEventLogDispatcher(store EventLogStore) *EventLogDispatcher {
	return &EventLogDispatcher{store: store}
}

func (d *EventLogDispatcher) Name() string { return "event_log" }

type eventPayload struct {
	Appointment  appointment.Appointment `json:"appointment"`
	PreviousSlot *appointment.SlotKey    `json:"previous_slot,omitempty"`
}

func (d *EventLogDispatcher) Handle(ctx context.Context, ev appointment.Event) error {
	payload, err := json.Marshal(eventPayload{Appointment: ev.Appointment, PreviousSlot: ev.PreviousSlot})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return d.store.AppendEvent(ctx, EventLog{
		EventID:       ev.ID,
		EventType:     string(ev.Type),
		AppointmentID: ev.Appointment.ID,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
	})
}
