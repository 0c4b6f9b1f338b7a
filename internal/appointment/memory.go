package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process AvailabilityStore, Repository and Transactor.
// Reads outside a transaction take a read lock and return copies. Atomic holds
// the write lock for the whole unit and undoes every write if fn fails, so a
// claim without its appointment is never observable.
type MemoryStore struct {
	mu     sync.RWMutex
	slots  map[SlotKey]bool // value is "claimed"
	appts  map[uuid.UUID]*Appointment
	active map[SlotKey]uuid.UUID
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:  make(map[SlotKey]bool),
		appts:  make(map[uuid.UUID]*Appointment),
		active: make(map[SlotKey]uuid.UUID),
		now:    time.Now,
	}
}

type memTx struct {
	owner *MemoryStore
	undo  []func()
}

type memTxKey struct{}

func (m *MemoryStore) txFrom(ctx context.Context) *memTx {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.owner == m {
		return tx
	}
	return nil
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{owner: m}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// write locks unless ctx already carries this store's transaction. onUndo is
// a no-op outside a transaction.
func (m *MemoryStore) write(ctx context.Context) (onUndo func(func()), unlock func()) {
	if tx := m.txFrom(ctx); tx != nil {
		return func(f func()) { tx.undo = append(tx.undo, f) }, func() {}
	}
	m.mu.Lock()
	return func(func()) {}, m.mu.Unlock
}

func (m *MemoryStore) read(ctx context.Context) (unlock func()) {
	if m.txFrom(ctx) != nil {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

// Availability

func (m *MemoryStore) Publish(ctx context.Context, doctorID, date string, times []string) ([]Slot, error) {
	keys := make([]SlotKey, 0, len(times))
	for _, t := range times {
		key, err := NewSlotKey(doctorID, date, t)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	onUndo, unlock := m.write(ctx)
	defer unlock()

	out := make([]Slot, 0, len(keys))
	for _, key := range keys {
		claimed, ok := m.slots[key]
		if !ok {
			m.slots[key] = false
			k := key
			onUndo(func() { delete(m.slots, k) })
		}
		out = append(out, Slot{SlotKey: key, Free: !claimed})
	}
	return out, nil
}

func (m *MemoryStore) PublishedSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	unlock := m.read(ctx)
	defer unlock()

	out := []Slot{}
	for key, claimed := range m.slots {
		if key.DoctorID == doctorID && key.Date == d {
			out = append(out, Slot{SlotKey: key, Free: !claimed})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryStore) Withdraw(ctx context.Context, key SlotKey) error {
	onUndo, unlock := m.write(ctx)
	defer unlock()

	claimed, ok := m.slots[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, key)
	}
	if claimed {
		return fmt.Errorf("%w: %s is booked", ErrSlotUnavailable, key)
	}
	delete(m.slots, key)
	onUndo(func() { m.slots[key] = false })
	return nil
}

func (m *MemoryStore) IsFree(ctx context.Context, key SlotKey) (bool, error) {
	unlock := m.read(ctx)
	defer unlock()

	claimed, ok := m.slots[key]
	return ok && !claimed, nil
}

func (m *MemoryStore) Claim(ctx context.Context, key SlotKey) (SlotHandle, error) {
	onUndo, unlock := m.write(ctx)
	defer unlock()

	claimed, ok := m.slots[key]
	if !ok {
		return SlotHandle{}, fmt.Errorf("%w: %s is not published", ErrSlotUnavailable, key)
	}
	if claimed {
		return SlotHandle{}, fmt.Errorf("%w: %s is already booked", ErrSlotUnavailable, key)
	}
	m.slots[key] = true
	onUndo(func() { m.slots[key] = false })
	return SlotHandle{Key: key, ClaimedAt: m.now()}, nil
}

func (m *MemoryStore) Release(ctx context.Context, key SlotKey) error {
	onUndo, unlock := m.write(ctx)
	defer unlock()

	if claimed, ok := m.slots[key]; ok && claimed {
		m.slots[key] = false
		onUndo(func() { m.slots[key] = true })
	}
	return nil
}

// Appointments

func (m *MemoryStore) Create(ctx context.Context, appt *Appointment) error {
	onUndo, unlock := m.write(ctx)
	defer unlock()

	if _, exists := m.appts[appt.ID]; exists {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	key := appt.Slot()
	if appt.Status.Active() {
		if _, taken := m.active[key]; taken {
			return fmt.Errorf("%w: %s has an active appointment", ErrSlotUnavailable, key)
		}
		m.active[key] = appt.ID
		onUndo(func() { delete(m.active, key) })
	}
	m.appts[appt.ID] = appt.clone()
	id := appt.ID
	onUndo(func() { delete(m.appts, id) })
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	unlock := m.read(ctx)
	defer unlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

// GetForUpdate is Get; the transaction already holds the write lock.
func (m *MemoryStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, appt *Appointment) error {
	onUndo, unlock := m.write(ctx)
	defer unlock()

	prev, ok := m.appts[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}

	oldKey, newKey := prev.Slot(), appt.Slot()
	if appt.Status.Active() {
		if holder, taken := m.active[newKey]; taken && holder != appt.ID {
			return fmt.Errorf("%w: %s has an active appointment", ErrSlotUnavailable, newKey)
		}
	}

	if prev.Status.Active() {
		delete(m.active, oldKey)
	}
	if appt.Status.Active() {
		m.active[newKey] = appt.ID
	}
	m.appts[appt.ID] = appt.clone()

	onUndo(func() {
		if appt.Status.Active() {
			delete(m.active, newKey)
		}
		if prev.Status.Active() {
			m.active[oldKey] = prev.ID
		}
		m.appts[prev.ID] = prev
	})
	return nil
}

func (m *MemoryStore) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return m.list(ctx, func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *MemoryStore) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	return m.list(ctx, func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *MemoryStore) ListByHospital(ctx context.Context, hospitalID string) ([]Appointment, error) {
	return m.list(ctx, func(a *Appointment) bool {
		return a.HospitalID != nil && *a.HospitalID == hospitalID
	}), nil
}

func (m *MemoryStore) list(ctx context.Context, match func(*Appointment) bool) []Appointment {
	unlock := m.read(ctx)
	defer unlock()

	out := []Appointment{}
	for _, a := range m.appts {
		if match(a) {
			out = append(out, *a.clone())
		}
	}
	sortAppointments(out)
	return out
}

func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		if list[i].Time != list[j].Time {
			return list[i].Time < list[j].Time
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
