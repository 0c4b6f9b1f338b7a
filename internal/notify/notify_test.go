package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/directory"
	"github.com/hackgods/healthcare-booking-engine/internal/lock"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (c *captureSink) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSink) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

type harness struct {
	svc      *appointment.Service
	store    *MemoryStore
	dir      *directory.Static
	email    *captureSink
	sms      *captureSink
	reminder *ReminderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	appts := appointment.NewMemoryStore()
	svc := appointment.NewService(appts, appts, appts, lock.NewLocalLocker(), zap.NewNop())
	_, err := appts.Publish(ctx, "D1", "2025-10-20", []string{"09:00", "14:30"})
	require.NoError(t, err)

	h := &harness{
		svc:   svc,
		store: NewMemoryStore(),
		dir:   directory.NewStatic(),
		email: &captureSink{},
		sms:   &captureSink{},
	}
	require.NoError(t, h.dir.UpsertPatient(ctx, directory.Patient{ID: "P1", Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+15550100"}))
	require.NoError(t, h.dir.UpsertPatient(ctx, directory.Patient{ID: "P2", Name: "No Contact"}))

	sink := ChannelSink{Email: h.email, SMS: h.sms}
	svc.Register(
		NewNotificationDispatcher(h.store),
		NewReminderDispatcher(h.store, 1),
		NewConfirmationSender(h.dir, sink, zap.NewNop()),
		NewEventLogDispatcher(h.store),
	)
	h.reminder = NewReminderService(h.store, svc, h.dir, sink, zap.NewNop(), nil)
	return h
}

func book(t *testing.T, h *harness, patient, tod string) *appointment.Appointment {
	t.Helper()
	appt, err := h.svc.Book(context.Background(), appointment.BookRequest{
		PatientID: patient,
		DoctorID:  "D1",
		Kind:      appointment.KindVideo,
		Date:      "2025-10-20",
		Time:      tod,
		Reason:    "checkup",
	})
	require.NoError(t, err)
	return appt
}

func TestBookingProducesSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	appt := book(t, h, "P1", "09:00")

	notes, err := h.store.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "appointment_booked", notes[0].Type)
	assert.Equal(t, "Your appointment has been booked for Oct 20, 2025 at 09:00 AM", notes[0].Message)
	assert.Equal(t, appt.ID, notes[0].AppointmentID)

	reminders, err := h.store.RemindersByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "2025-10-19", reminders[0].RemindOn)
	assert.Equal(t, "You have an appointment scheduled for Oct 20, 2025 at 09:00 AM", reminders[0].Message)

	mails := h.email.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, "ada@example.com", mails[0].To)
	assert.Equal(t, "Appointment Confirmation - Healthcare System", mails[0].Subject)
	assert.Contains(t, mails[0].Body, "Dear Ada Lovelace,")
	assert.Contains(t, mails[0].Body, "Date & Time: October 20, 2025 at 09:00 AM")

	events := h.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "booked", events[0].EventType)
}

func TestCancelAndRescheduleMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	appt := book(t, h, "P1", "09:00")

	_, err := h.svc.Reschedule(ctx, appt.ID, "2025-10-20", "14:30")
	require.NoError(t, err)
	require.NoError(t, h.svc.Cancel(ctx, appt.ID))

	notes, err := h.store.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, notes, 3)

	var texts []string
	for _, n := range notes {
		texts = append(texts, n.Message)
	}
	assert.Contains(t, texts, "Your appointment has been rescheduled to Oct 20, 2025 at 02:30 PM")
	assert.Contains(t, texts, "Your appointment scheduled for Oct 20, 2025 at 02:30 PM has been cancelled.")

	subjects := []string{}
	for _, m := range h.email.sent() {
		subjects = append(subjects, m.Subject)
	}
	assert.Equal(t, []string{
		"Appointment Confirmation - Healthcare System",
		"Appointment Rescheduled - Healthcare System",
		"Appointment Cancelled - Healthcare System",
	}, subjects)

	events := h.store.Events()
	require.Len(t, events, 3)
	var payload struct {
		PreviousSlot *appointment.SlotKey `json:"previous_slot"`
	}
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	require.NotNil(t, payload.PreviousSlot)
	assert.Equal(t, "09:00", payload.PreviousSlot.Time)
}

func TestConfirmationSkipsPatientWithoutEmail(t *testing.T) {
	h := newHarness(t)
	book(t, h, "P2", "09:00")
	book(t, h, "P404", "14:30")
	assert.Empty(t, h.email.sent())
}

func TestNotificationRedeliveryIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := NewNotificationDispatcher(store)

	ev := appointment.Event{
		ID:   uuid.New(),
		Type: appointment.EventBooked,
		Appointment: appointment.Appointment{
			ID: uuid.New(), PatientID: "P1", DoctorID: "D1",
			Date: "2025-10-20", Time: "09:00", Status: appointment.StatusUpcoming,
		},
	}
	require.NoError(t, d.Handle(ctx, ev))
	require.NoError(t, d.Handle(ctx, ev))

	ev.Type = appointment.EventCompleted
	ev.ID = uuid.New()
	require.NoError(t, d.Handle(ctx, ev))

	notes, err := store.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestPendingBookingNotification(t *testing.T) {
	typ, text, ok := notificationText(appointment.Event{
		Type: appointment.EventBooked,
		Appointment: appointment.Appointment{
			DoctorID: "D1", Date: "2025-10-20", Time: "09:00", Status: appointment.StatusPending,
		},
	})
	require.True(t, ok)
	assert.Equal(t, "appointment_requested", typ)
	assert.True(t, strings.HasPrefix(text, "Your appointment request for Oct 20, 2025 at 09:00 AM"))
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	book(t, h, "P1", "09:00")

	notes, err := h.store.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.NoError(t, h.store.MarkRead(ctx, notes[0].ID))

	notes, err = h.store.NotificationsByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, notes[0].Read)

	assert.ErrorIs(t, h.store.MarkRead(ctx, uuid.New()), ErrNotificationNotFound)
}

func day(s string) time.Time {
	t, _ := time.Parse(appointment.DateLayout, s)
	return t.Add(8 * time.Hour)
}

func TestDeliverDueSendsSMSOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	book(t, h, "P1", "09:00")

	report, err := h.reminder.DeliverDue(ctx, day("2025-10-18"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)

	report, err = h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Sent: 1}, report)

	sms := h.sms.sent()
	require.Len(t, sms, 1)
	assert.Equal(t, "+15550100", sms[0].To)
	assert.Equal(t, "Reminder: You have an appointment scheduled for Oct 20, 2025 at 09:00 AM on 2025-10-19", sms[0].Body)

	report, err = h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)

	reminders, err := h.store.RemindersByPatient(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, reminders[0].DeliveredAt)
}

func TestDeliverDueSkipsStaleReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	appt := book(t, h, "P1", "09:00")
	_, err := h.svc.Reschedule(ctx, appt.ID, "2025-10-20", "14:30")
	require.NoError(t, err)

	other := book(t, h, "P1", "09:00")
	require.NoError(t, h.svc.Cancel(ctx, other.ID))

	report, err := h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Sent: 1, Skipped: 2}, report)

	sms := h.sms.sent()
	require.Len(t, sms, 1)
	assert.Contains(t, sms[0].Body, "02:30 PM")
}

func TestDeliverDueRetriesFailedSends(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	book(t, h, "P1", "09:00")

	h.sms.err = errors.New("gateway down")
	report, err := h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Failed: 1}, report)

	h.sms.err = nil
	report, err = h.reminder.DeliverDue(ctx, day("2025-10-20"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Sent: 1}, report)
}

func TestDeliverDueSendsNewestReminderAfterReturningToSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	appt := book(t, h, "P1", "09:00")

	_, err := h.svc.Reschedule(ctx, appt.ID, "2025-10-20", "14:30")
	require.NoError(t, err)
	_, err = h.svc.Reschedule(ctx, appt.ID, "2025-10-20", "09:00")
	require.NoError(t, err)

	report, err := h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Sent: 1, Skipped: 2}, report)

	sms := h.sms.sent()
	require.Len(t, sms, 1)
	assert.Equal(t, "Reminder: You have a rescheduled appointment for Oct 20, 2025 at 09:00 AM on 2025-10-19", sms[0].Body)

	report, err = h.reminder.DeliverDue(ctx, day("2025-10-19"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)
}

type rejectingSink struct {
	captureSink
	reject string
}

func (s *rejectingSink) Send(ctx context.Context, msg Message) error {
	if msg.To == s.reject {
		return errors.New("invalid destination number")
	}
	return s.captureSink.Send(ctx, msg)
}

type apptTable map[uuid.UUID]*appointment.Appointment

func (t apptTable) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := t[id]; ok {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func seedReminder(t *testing.T, store *MemoryStore, appts apptTable, patient, remindOn string) Reminder {
	t.Helper()
	apptID := uuid.New()
	appts[apptID] = &appointment.Appointment{
		ID: apptID, PatientID: patient, DoctorID: "D1",
		Date: "2025-10-20", Time: "09:00", Status: appointment.StatusUpcoming,
	}
	r := Reminder{
		ID: uuid.New(), EventID: uuid.New(), AppointmentID: apptID, PatientID: patient,
		Type: "appointment", Message: "You have an appointment scheduled for Oct 20, 2025 at 09:00 AM",
		RemindOn: remindOn, Date: "2025-10-20", Time: "09:00", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveReminder(context.Background(), r))
	return r
}

func newRejectingService(t *testing.T) (*ReminderService, *MemoryStore, apptTable, *rejectingSink) {
	t.Helper()
	ctx := context.Background()
	dir := directory.NewStatic()
	require.NoError(t, dir.UpsertPatient(ctx, directory.Patient{ID: "BAD", Name: "Wrong Number", Phone: "+10000000000"}))
	require.NoError(t, dir.UpsertPatient(ctx, directory.Patient{ID: "P1", Name: "Ada Lovelace", Phone: "+15550100"}))

	store := NewMemoryStore()
	appts := apptTable{}
	sink := &rejectingSink{reject: "+10000000000"}
	return NewReminderService(store, appts, dir, sink, zap.NewNop(), nil), store, appts, sink
}

func TestFailingRemindersDoNotStarveLaterOnes(t *testing.T) {
	ctx := context.Background()
	svc, store, appts, sink := newRejectingService(t)

	for i := 0; i < 100; i++ {
		seedReminder(t, store, appts, "BAD", "2025-10-18")
	}
	seedReminder(t, store, appts, "P1", "2025-10-19")

	now := day("2025-10-19")
	report, err := svc.DeliverDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Sent: 1, Failed: 100}, report)

	sms := sink.sent()
	require.Len(t, sms, 1)
	assert.Equal(t, "+15550100", sms[0].To)

	// still backing off
	report, err = svc.DeliverDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)

	report, err = svc.DeliverDue(ctx, now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{Failed: 100}, report)

	bad, err := store.RemindersByPatient(ctx, "BAD")
	require.NoError(t, err)
	for _, r := range bad {
		assert.Equal(t, 2, r.Attempts)
		require.NotNil(t, r.NextAttemptAt)
		assert.True(t, r.NextAttemptAt.After(now.Add(6*time.Minute)))
		assert.Nil(t, r.DeliveredAt)
	}
}

func TestReminderRetriesStopAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	svc, store, appts, _ := newRejectingService(t)
	seedReminder(t, store, appts, "BAD", "2025-10-19")

	now := day("2025-10-19")
	for i := 0; i < 5; i++ {
		report, err := svc.DeliverDue(ctx, now.Add(time.Duration(i)*2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, DeliveryReport{Failed: 1}, report, "attempt %d", i+1)
	}

	report, err := svc.DeliverDue(ctx, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DeliveryReport{}, report)
}

func TestNextDelayDoublesUpToADay(t *testing.T) {
	svc := NewReminderService(NewMemoryStore(), apptTable{}, directory.NewStatic(), NewLogSink(nil), nil, nil)
	assert.Equal(t, 5*time.Minute, svc.nextDelay(0))
	assert.Equal(t, 20*time.Minute, svc.nextDelay(2))
	assert.Equal(t, 24*time.Hour, svc.nextDelay(10))
	assert.Equal(t, 24*time.Hour, svc.nextDelay(1000))
}

func TestChannelSinkRouting(t *testing.T) {
	ctx := context.Background()
	email, fallback := &captureSink{}, &captureSink{}

	sink := ChannelSink{Email: email, Fallback: fallback}
	require.NoError(t, sink.Send(ctx, Message{Channel: ChannelEmail, To: "a@b.c"}))
	require.NoError(t, sink.Send(ctx, Message{Channel: ChannelSMS, To: "+1"}))
	assert.Len(t, email.sent(), 1)
	assert.Len(t, fallback.sent(), 1)

	assert.Error(t, ChannelSink{}.Send(ctx, Message{Channel: ChannelSMS}))
}

func TestSendGridSink(t *testing.T) {
	assert.Nil(t, NewSendGridSink(SendGridConfig{FromEmail: "x@example.com"}, nil))

	s := NewSendGridSink(SendGridConfig{APIKey: "test-key", FromEmail: "x@example.com"}, nil)
	require.NotNil(t, s)
	assert.Equal(t, "Healthcare Appointment System", s.fromName)

	err := s.Send(context.Background(), Message{Channel: ChannelSMS, To: "+1"})
	assert.Error(t, err)

	err = (&SendGridSink{}).Send(context.Background(), Message{Channel: ChannelEmail, To: "a@b.c"})
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Send(context.Background(), Message{Channel: ChannelEmail, To: "a@b.c"}))
}
