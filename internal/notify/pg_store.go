package notify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/db"
)

const dayLayout = appointment.DateLayout

// PgStore implements NotificationStore, ReminderStore and EventLogStore on
// Postgres. event_id is unique in every table, so redelivered events are
// dropped by ON CONFLICT.
type PgStore struct {
	pool db.DBTX
}

func NewPgStore(pool db.DBTX) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) SaveNotification(ctx context.Context, n Notification) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO notifications (id, event_id, appointment_id, patient_id, type, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, n.ID, n.EventID, n.AppointmentID, n.PatientID, n.Type, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PgStore) NotificationsByPatient(ctx context.Context, patientID string) ([]Notification, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT id, event_id, appointment_id, patient_id, type, message, read, created_at
		FROM notifications
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.AppointmentID, &n.PatientID, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PgStore) SaveReminder(ctx context.Context, r Reminder) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO reminders (id, event_id, appointment_id, patient_id, type, message, remind_on, slot_date, slot_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`, r.ID, r.EventID, r.AppointmentID, r.PatientID, r.Type, r.Message,
		parseDay(r.RemindOn), parseDay(r.Date), r.Time, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

const reminderColumns = `id, event_id, appointment_id, patient_id, type, message, remind_on, slot_date, slot_time, created_at, delivered_at, attempts, next_attempt_at`

func (s *PgStore) RemindersByPatient(ctx context.Context, patientID string) ([]Reminder, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE patient_id = $1
		ORDER BY remind_on, slot_date, slot_time
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return collectReminders(rows)
}

func (s *PgStore) LatestReminder(ctx context.Context, appointmentID uuid.UUID) (Reminder, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, appointmentID)
	if err != nil {
		return Reminder{}, fmt.Errorf("latest reminder: %w", err)
	}
	out, err := collectReminders(rows)
	if err != nil {
		return Reminder{}, err
	}
	if len(out) == 0 {
		return Reminder{}, ErrReminderNotFound
	}
	return out[0], nil
}

func (s *PgStore) DueReminders(ctx context.Context, q DueQuery) ([]Reminder, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE delivered_at IS NULL
		  AND remind_on <= $1
		  AND attempts < $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY next_attempt_at NULLS FIRST, remind_on, slot_date, slot_time
		LIMIT $4
	`, parseDay(q.Day), maxAttempts, q.Now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return collectReminders(rows)
}

func (s *PgStore) ScheduleRetry(ctx context.Context, id uuid.UUID, next time.Time) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE reminders
		SET attempts = attempts + 1, next_attempt_at = $2
		WHERE id = $1
	`, id, next)
	if err != nil {
		return fmt.Errorf("schedule reminder retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE reminders
		SET delivered_at = COALESCE(delivered_at, $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PgStore) AppendEvent(ctx context.Context, e EventLog) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO event_logs (event_id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.EventType, e.AppointmentID, []byte(e.Payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func collectReminders(rows pgx.Rows) ([]Reminder, error) {
	defer rows.Close()

	out := []Reminder{}
	for rows.Next() {
		var (
			r              Reminder
			remindOn, date time.Time
		)
		err := rows.Scan(&r.ID, &r.EventID, &r.AppointmentID, &r.PatientID, &r.Type, &r.Message,
			&remindOn, &date, &r.Time, &r.CreatedAt, &r.DeliveredAt, &r.Attempts, &r.NextAttemptAt)
		if err != nil {
			return nil, err
		}
		r.RemindOn = remindOn.Format(dayLayout)
		r.Date = date.Format(dayLayout)
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseDay(d string) time.Time {
	t, _ := time.Parse(dayLayout, d)
	return t
}
