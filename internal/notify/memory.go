package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps notifications, reminders and the event log in process.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications []Notification
	reminders     []Reminder
	events        []EventLog
	seen          map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

// firstSeen records kind+eventID and reports whether it is new. Callers hold mu.
func (m *MemoryStore) firstSeen(kind string, eventID uuid.UUID) bool {
	k := kind + ":" + eventID.String()
	if m.seen[k] {
		return false
	}
	m.seen[k] = true
	return true
}

func (m *MemoryStore) SaveNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstSeen("notification", n.EventID) {
		m.notifications = append(m.notifications, n)
	}
	return nil
}

func (m *MemoryStore) NotificationsByPatient(_ context.Context, patientID string) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Notification{}
	for _, n := range m.notifications {
		if n.PatientID == patientID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (m *MemoryStore) SaveReminder(_ context.Context, r Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstSeen("reminder", r.EventID) {
		m.reminders = append(m.reminders, r)
	}
	return nil
}

func (m *MemoryStore) RemindersByPatient(_ context.Context, patientID string) ([]Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Reminder{}
	for _, r := range m.reminders {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	sortReminders(out)
	return out, nil
}

// LatestReminder returns the most recently created reminder of an
// appointment. Ties go to the one saved last.
func (m *MemoryStore) LatestReminder(_ context.Context, appointmentID uuid.UUID) (Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest Reminder
		found  bool
	)
	for _, r := range m.reminders {
		if r.AppointmentID != appointmentID {
			continue
		}
		if !found || !r.CreatedAt.Before(latest.CreatedAt) {
			latest, found = r, true
		}
	}
	if !found {
		return Reminder{}, ErrReminderNotFound
	}
	return latest, nil
}

func (m *MemoryStore) DueReminders(_ context.Context, q DueQuery) ([]Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Reminder{}
	for _, r := range m.reminders {
		if r.DeliveredAt != nil || r.RemindOn > q.Day {
			continue
		}
		if q.MaxAttempts > 0 && r.Attempts >= q.MaxAttempts {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(q.Now) {
			continue
		}
		out = append(out, r)
	}
	sortReminders(out)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextAttemptAt, out[j].NextAttemptAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reminders {
		if m.reminders[i].ID == id {
			if m.reminders[i].DeliveredAt == nil {
				t := at
				m.reminders[i].DeliveredAt = &t
			}
			return nil
		}
	}
	return ErrReminderNotFound
}

func (m *MemoryStore) ScheduleRetry(_ context.Context, id uuid.UUID, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reminders {
		if m.reminders[i].ID == id {
			t := next
			m.reminders[i].Attempts++
			m.reminders[i].NextAttemptAt = &t
			return nil
		}
	}
	return ErrReminderNotFound
}

func (m *MemoryStore) AppendEvent(_ context.Context, e EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstSeen("event", e.EventID) {
		m.events = append(m.events, e)
	}
	return nil
}

// Events returns a copy of the event log in append order.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}

// sortReminders orders by due day, then by the slot the reminder is for.
func sortReminders(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].RemindOn != rs[j].RemindOn {
			return rs[i].RemindOn < rs[j].RemindOn
		}
		if rs[i].Date != rs[j].Date {
			return rs[i].Date < rs[j].Date
		}
		return rs[i].Time < rs[j].Time
	})
}
