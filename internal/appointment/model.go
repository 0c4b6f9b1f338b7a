package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Active statuses hold a slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusUpcoming
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

type Kind string

const (
	KindVideo    Kind = "video"
	KindChat     Kind = "chat"
	KindInPerson Kind = "in-person"
	KindHospital Kind = "hospital"
)

func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindChat, KindInPerson, KindHospital:
		return true
	}
	return false
}

// InitialStatus is the status a fresh booking of this kind starts in.
// Hospital bookings wait for staff approval.
func (k Kind) InitialStatus() Status {
	if k == KindHospital {
		return StatusPending
	}
	return StatusUpcoming
}

type Op string

const (
	OpApprove    Op = "approve"
	OpReschedule Op = "reschedule"
	OpCancel     Op = "cancel"
	OpComplete   Op = "complete"
)

// transitions is the single source of truth for legal status changes.
// Terminal statuses have no entry.
var transitions = map[Status]map[Op]Status{
	StatusPending: {
		OpApprove:    StatusUpcoming,
		OpReschedule: StatusPending,
		OpCancel:     StatusCancelled,
	},
	StatusUpcoming: {
		OpReschedule: StatusUpcoming,
		OpCancel:     StatusCancelled,
		OpComplete:   StatusCompleted,
	},
}

// Next returns the status reached by applying op, or ErrInvalidStateTransition.
func (s Status) Next(op Op) (Status, error) {
	to, ok := transitions[s][op]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidStateTransition, op, s)
	}
	return to, nil
}

// SlotKey identifies one bookable unit: a doctor at a date and time of day.
type SlotKey struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
}

// NewSlotKey validates and normalizes the parts of a slot key. "9:00" becomes
// "09:00".
func NewSlotKey(doctorID, date, tod string) (SlotKey, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return SlotKey{}, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	d, err := ParseDate(date)
	if err != nil {
		return SlotKey{}, err
	}
	tm, err := ParseTimeOfDay(tod)
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{DoctorID: doctorID, Date: d, Time: tm}, nil
}

func (k SlotKey) LockKey() string {
	return fmt.Sprintf("slot:%s:%s:%s", k.DoctorID, k.Date, k.Time)
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DoctorID, k.Date, k.Time)
}

// Start is the slot's wall-clock start in UTC.
func (k SlotKey) Start() time.Time {
	t, _ := time.Parse(DateLayout+" "+TimeLayout, k.Date+" "+k.Time)
	return t
}

func ParseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: date is required", ErrValidation)
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return d.Format(DateLayout), nil
}

func ParseTimeOfDay(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: time is required", ErrValidation)
	}
	t, err := time.Parse(TimeLayout, raw)
	if err != nil {
		t, err = time.Parse("15:04:05", raw)
	}
	if err != nil {
		return "", fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	}
	return t.Format(TimeLayout), nil
}

type Slot struct {
	SlotKey
	Free bool `json:"free"`
}

// SlotHandle is proof of a successful claim.
type SlotHandle struct {
	Key       SlotKey
	ClaimedAt time.Time
}

type Appointment struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	DoctorID   string    `json:"doctor_id"`
	HospitalID *string   `json:"hospital_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a *Appointment) Slot() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

func (a *Appointment) clone() *Appointment {
	c := *a
	if a.HospitalID != nil {
		h := *a.HospitalID
		c.HospitalID = &h
	}
	if a.Notes != nil {
		n := *a.Notes
		c.Notes = &n
	}
	return &c
}

type BookRequest struct {
	PatientID  string
	DoctorID   string
	HospitalID *string
	Kind       Kind
	Date       string
	Time       string
	Reason     string
}

// normalize checks required fields and returns the slot the request targets.
func (r *BookRequest) normalize() (SlotKey, error) {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.HospitalID != nil {
		h := strings.TrimSpace(*r.HospitalID)
		if h == "" {
			r.HospitalID = nil
		} else {
			r.HospitalID = &h
		}
	}

	if r.PatientID == "" {
		return SlotKey{}, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	key, err := NewSlotKey(r.DoctorID, r.Date, r.Time)
	if err != nil {
		return SlotKey{}, err
	}
	if r.Reason == "" {
		return SlotKey{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if r.Kind == "" {
		r.Kind = KindInPerson
	}
	if !r.Kind.Valid() {
		return SlotKey{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, r.Kind)
	}
	if r.Kind == KindHospital && r.HospitalID == nil {
		return SlotKey{}, fmt.Errorf("%w: hospital_id is required for hospital bookings", ErrValidation)
	}

	r.DoctorID, r.Date, r.Time = key.DoctorID, key.Date, key.Time
	return key, nil
}
