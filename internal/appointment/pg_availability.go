package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/healthcare-booking-engine/internal/db"
)

// PgAvailabilityStore keeps slots in availability_slots. Claim is a single
// conditional UPDATE, so concurrent claims on one row serialize in Postgres
// and at most one sees a row affected.
type PgAvailabilityStore struct {
	pool db.DBTX
}

func NewPgAvailabilityStore(pool db.DBTX) *PgAvailabilityStore {
	return &PgAvailabilityStore{pool: pool}
}

func (s *PgAvailabilityStore) Publish(ctx context.Context, doctorID, date string, times []string) ([]Slot, error) {
	keys := make([]SlotKey, 0, len(times))
	for _, t := range times {
		key, err := NewSlotKey(doctorID, date, t)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	conn := db.Conn(ctx, s.pool)
	for _, key := range keys {
		_, err := conn.Exec(ctx, `
			INSERT INTO availability_slots (doctor_id, slot_date, slot_time, claimed, created_at, updated_at)
			VALUES ($1, $2, $3, false, now(), now())
			ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING
		`, key.DoctorID, dateArg(key.Date), key.Time)
		if err != nil {
			return nil, fmt.Errorf("publish slot %s: %w", key, err)
		}
	}

	if len(keys) == 0 {
		return []Slot{}, nil
	}
	all, err := s.PublishedSlots(ctx, keys[0].DoctorID, keys[0].Date)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k.Time] = true
	}
	out := make([]Slot, 0, len(keys))
	for _, sl := range all {
		if wanted[sl.Time] {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *PgAvailabilityStore) PublishedSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT doctor_id, slot_date, slot_time, claimed
		FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY slot_time
	`, doctorID, dateArg(d))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := []Slot{}
	for rows.Next() {
		var (
			sl      Slot
			day     time.Time
			claimed bool
		)
		if err := rows.Scan(&sl.DoctorID, &day, &sl.Time, &claimed); err != nil {
			return nil, err
		}
		sl.Date = day.Format(DateLayout)
		sl.Free = !claimed
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgAvailabilityStore) Withdraw(ctx context.Context, key SlotKey) error {
	conn := db.Conn(ctx, s.pool)
	tag, err := conn.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3 AND NOT claimed
	`, key.DoctorID, dateArg(key.Date), key.Time)
	if err != nil {
		return fmt.Errorf("withdraw slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.lookup(ctx, key); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is booked", ErrSlotUnavailable, key)
}

func (s *PgAvailabilityStore) IsFree(ctx context.Context, key SlotKey) (bool, error) {
	claimed, err := s.lookup(ctx, key)
	if errors.Is(err, ErrSlotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

func (s *PgAvailabilityStore) Claim(ctx context.Context, key SlotKey) (SlotHandle, error) {
	var claimedAt time.Time
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		UPDATE availability_slots
		SET claimed = true,
		    updated_at = now()
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3 AND NOT claimed
		RETURNING updated_at
	`, key.DoctorID, dateArg(key.Date), key.Time).Scan(&claimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SlotHandle{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, key)
	}
	if err != nil {
		return SlotHandle{}, fmt.Errorf("claim slot: %w", err)
	}
	return SlotHandle{Key: key, ClaimedAt: claimedAt}, nil
}

func (s *PgAvailabilityStore) Release(ctx context.Context, key SlotKey) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE availability_slots
		SET claimed = false,
		    updated_at = now()
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3 AND claimed
	`, key.DoctorID, dateArg(key.Date), key.Time)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *PgAvailabilityStore) lookup(ctx context.Context, key SlotKey) (claimed bool, err error) {
	err = db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT claimed
		FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
	`, key.DoctorID, dateArg(key.Date), key.Time).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrSlotNotFound, key)
	}
	if err != nil {
		return false, fmt.Errorf("lookup slot: %w", err)
	}
	return claimed, nil
}
