package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/healthcare-booking-engine/internal/db"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, hospital_id, kind, slot_date, slot_time, status, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.HospitalID,
		&a.Kind,
		&date,
		&a.Time,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = date.Format(DateLayout)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// dateArg converts a normalized YYYY-MM-DD string into a DATE parameter.
func dateArg(d string) time.Time {
	t, _ := time.Parse(DateLayout, d)
	return t
}

func (r *PgRepository) Create(ctx context.Context, appt *Appointment) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.HospitalID, appt.Kind,
		dateArg(appt.Date), appt.Time, appt.Status, appt.Reason, appt.Notes,
		appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s has an active appointment", ErrSlotUnavailable, appt.Slot())
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Update(ctx context.Context, appt *Appointment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments
		SET slot_date = $2,
		    slot_time = $3,
		    status = $4,
		    notes = $5,
		    updated_at = $6
		WHERE id = $1
	`, appt.ID, dateArg(appt.Date), appt.Time, appt.Status, appt.Notes, appt.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s has an active appointment", ErrSlotUnavailable, appt.Slot())
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return r.list(ctx, "patient_id", patientID)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	return r.list(ctx, "doctor_id", doctorID)
}

func (r *PgRepository) ListByHospital(ctx context.Context, hospitalID string) ([]Appointment, error) {
	return r.list(ctx, "hospital_id", hospitalID)
}

// list filters on one of the fixed owner columns above.
func (r *PgRepository) list(ctx context.Context, column, value string) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY slot_date, slot_time, created_at
	`, value)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
