// Package directory answers who exists: patients, doctors, and how to reach
// a patient.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/healthcare-booking-engine/internal/db"
)

type Patient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Doctor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty,omitempty"`
	HospitalID string `json:"hospital_id,omitempty"`
}

// Contact is what the message senders need to reach a patient.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// PgDirectory reads the patients and doctors tables.
type PgDirectory struct {
	pool db.DBTX
}

func NewPgDirectory(pool db.DBTX) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) PatientExists(ctx context.Context, id string) (bool, error) {
	return d.exists(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id)
}

func (d *PgDirectory) DoctorExists(ctx context.Context, id string) (bool, error) {
	return d.exists(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id)
}

func (d *PgDirectory) exists(ctx context.Context, query, id string) (bool, error) {
	var ok bool
	if err := db.Conn(ctx, d.pool).QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("directory lookup: %w", err)
	}
	return ok, nil
}

// Contact reports false when the patient is unknown.
func (d *PgDirectory) Contact(ctx context.Context, patientID string) (Contact, bool, error) {
	var c Contact
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT name, COALESCE(email, ''), COALESCE(phone, '')
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, fmt.Errorf("load contact: %w", err)
	}
	return c, true, nil
}

func (d *PgDirectory) UpsertPatient(ctx context.Context, p Patient) error {
	_, err := db.Conn(ctx, d.pool).Exec(ctx, `
		INSERT INTO patients (id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    updated_at = now()
	`, p.ID, p.Name, p.Email, p.Phone)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", p.ID, err)
	}
	return nil
}

func (d *PgDirectory) UpsertDoctor(ctx context.Context, doc Doctor) error {
	_, err := db.Conn(ctx, d.pool).Exec(ctx, `
		INSERT INTO doctors (id, name, specialty, hospital_id, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    hospital_id = EXCLUDED.hospital_id,
		    updated_at = now()
	`, doc.ID, doc.Name, doc.Specialty, doc.HospitalID)
	if err != nil {
		return fmt.Errorf("upsert doctor %s: %w", doc.ID, err)
	}
	return nil
}

// Static is an in-memory directory for the memory backend and tests.
type Static struct {
	mu       sync.RWMutex
	patients map[string]Patient
	doctors  map[string]Doctor
}

func NewStatic() *Static {
	return &Static{
		patients: make(map[string]Patient),
		doctors:  make(map[string]Doctor),
	}
}

func (s *Static) UpsertPatient(_ context.Context, p Patient) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("patient id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *Static) UpsertDoctor(_ context.Context, d Doctor) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("doctor id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
	return nil
}

func (s *Static) PatientExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patients[id]
	return ok, nil
}

func (s *Static) DoctorExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doctors[id]
	return ok, nil
}

func (s *Static) Contact(_ context.Context, patientID string) (Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	if !ok {
		return Contact{}, false, nil
	}
	return Contact{Name: p.Name, Email: p.Email, Phone: p.Phone}, true, nil
}
