package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/lock"
	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
)

// Service is the booking state machine. It is the only component that
// changes appointment status.
type Service struct {
	repo     Repository
	slots    AvailabilityStore
	tx       Transactor
	locker   lock.Locker
	log      *zap.Logger
	metrics  *metrics.Collector
	patients PatientDirectory
	doctors  DoctorDirectory
	events   *fanout
	now      func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDirectories enables existence checks on booking. Either may be nil.
func WithDirectories(patients PatientDirectory, doctors DoctorDirectory) Option {
	return func(s *Service) {
		s.patients = patients
		s.doctors = doctors
	}
}

// WithAsyncDispatch delivers events from a background goroutine with a queue
// of the given size.
func WithAsyncDispatch(buffer int) Option {
	return func(s *Service) { s.events.startAsync(buffer) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, slots AvailabilityStore, tx Transactor, locker lock.Locker, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		slots:  slots,
		tx:     tx,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
	s.events = newFanout(log, nil)
	for _, opt := range opts {
		opt(s)
	}
	s.events.metrics = s.metrics
	return s
}

// Register adds dispatchers. They run in registration order after every
// committed change.
func (s *Service) Register(ds ...Dispatcher) {
	s.events.register(ds...)
}

// Close drains pending async events.
func (s *Service) Close(timeout time.Duration) {
	s.events.close(timeout)
}

// Book claims the requested slot and creates the appointment as one atomic
// unit. Hospital bookings start pending, everything else upcoming.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	key, err := req.normalize()
	if err != nil {
		s.metrics.ObserveBooking(string(req.Kind), outcome(err))
		return nil, err
	}
	if err := s.checkParticipants(ctx, req.PatientID, req.DoctorID); err != nil {
		s.metrics.ObserveBooking(string(req.Kind), outcome(err))
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, key.LockKey(), func(lockCtx context.Context) error {
		return s.tx.Atomic(lockCtx, func(txCtx context.Context) error {
			if _, err := s.slots.Claim(txCtx, key); err != nil {
				return err
			}

			now := s.now().UTC()
			appt := &Appointment{
				ID:         uuid.New(),
				PatientID:  req.PatientID,
				DoctorID:   key.DoctorID,
				HospitalID: req.HospitalID,
				Kind:       req.Kind,
				Date:       key.Date,
				Time:       key.Time,
				Status:     req.Kind.InitialStatus(),
				Reason:     req.Reason,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.repo.Create(txCtx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		err = slotLockError(key, err)
		if errors.Is(err, ErrSlotUnavailable) {
			s.metrics.SlotConflict()
		}
		s.metrics.ObserveBooking(string(req.Kind), outcome(err))
		return nil, err
	}

	s.metrics.ObserveBooking(string(req.Kind), "booked")
	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.String("patient_id", created.PatientID),
		zap.String("slot", key.String()),
		zap.String("status", string(created.Status)),
	)
	s.publish(ctx, EventBooked, created, nil)

	return created, nil
}

// Approve moves a pending hospital booking to upcoming.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, _, err := s.transition(ctx, id, OpApprove, func(a *Appointment) (bool, error) {
		next, err := a.Status.Next(OpApprove)
		if err != nil {
			return false, err
		}
		a.Status = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventApproved, appt, nil)
	return appt, nil
}

// Reschedule moves an active appointment to another slot of the same doctor.
// The new slot is claimed before the old one is released; if the claim fails
// nothing changes.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date, tod string) (*Appointment, error) {
	d, err := ParseDate(date)
	if err != nil {
		s.metrics.ObserveTransition(string(OpReschedule), outcome(err))
		return nil, err
	}
	t, err := ParseTimeOfDay(tod)
	if err != nil {
		s.metrics.ObserveTransition(string(OpReschedule), outcome(err))
		return nil, err
	}

	var (
		updated *Appointment
		prev    SlotKey
		moved   bool
	)

	err = s.withAppointmentLock(ctx, id, func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := current.Status.Next(OpReschedule); err != nil {
			return err
		}

		newKey := SlotKey{DoctorID: current.DoctorID, Date: d, Time: t}
		if newKey == current.Slot() {
			updated = current
			return nil
		}

		err = s.locker.WithLock(ctx, newKey.LockKey(), func(lockCtx context.Context) error {
			return s.tx.Atomic(lockCtx, func(txCtx context.Context) error {
				appt, err := s.repo.GetForUpdate(txCtx, id)
				if err != nil {
					return err
				}
				if _, err := appt.Status.Next(OpReschedule); err != nil {
					return err
				}
				if _, err := s.slots.Claim(txCtx, newKey); err != nil {
					return err
				}
				old := appt.Slot()
				if err := s.slots.Release(txCtx, old); err != nil {
					return fmt.Errorf("release %s: %w", old, err)
				}

				appt.Date, appt.Time = newKey.Date, newKey.Time
				appt.UpdatedAt = s.now().UTC()
				if err := s.repo.Update(txCtx, appt); err != nil {
					return fmt.Errorf("update appointment: %w", err)
				}
				updated, prev, moved = appt, old, true
				return nil
			})
		})
		return slotLockError(newKey, err)
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.metrics.SlotConflict()
		}
		s.metrics.ObserveTransition(string(OpReschedule), outcome(err))
		return nil, err
	}

	s.metrics.ObserveTransition(string(OpReschedule), "ok")
	if moved {
		s.log.Info("appointment rescheduled",
			zap.Stringer("appointment_id", updated.ID),
			zap.String("from", prev.String()),
			zap.String("to", updated.Slot().String()),
		)
		s.publish(ctx, EventRescheduled, updated, &prev)
	}
	return updated, nil
}

// Cancel releases the appointment's slot. Cancelling an already cancelled
// appointment succeeds without side effects.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	appt, changed, err := s.transition(ctx, id, OpCancel, func(a *Appointment) (bool, error) {
		if a.Status == StatusCancelled {
			return false, nil
		}
		next, err := a.Status.Next(OpCancel)
		if err != nil {
			return false, err
		}
		a.Status = next
		return true, nil
	}, s.slots.Release)
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, EventCancelled, appt, nil)
	}
	return nil
}

// Complete closes an upcoming appointment. The slot stays consumed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes *string) (*Appointment, error) {
	if notes != nil {
		n := strings.TrimSpace(*notes)
		notes = &n
		if n == "" {
			notes = nil
		}
	}

	appt, _, err := s.transition(ctx, id, OpComplete, func(a *Appointment) (bool, error) {
		next, err := a.Status.Next(OpComplete)
		if err != nil {
			return false, err
		}
		a.Status = next
		a.Notes = notes
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, EventCompleted, appt, nil)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	list, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	list, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return list, nil
}

func (s *Service) ListByHospital(ctx context.Context, hospitalID string) ([]Appointment, error) {
	if strings.TrimSpace(hospitalID) == "" {
		return nil, fmt.Errorf("%w: hospital_id is required", ErrValidation)
	}
	list, err := s.repo.ListByHospital(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by hospital: %w", err)
	}
	return list, nil
}

// PublishSlots makes times bookable for a doctor on a date.
func (s *Service) PublishSlots(ctx context.Context, doctorID, date string, times []string) ([]Slot, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: at least one time is required", ErrValidation)
	}
	if _, err := NewSlotKey(doctorID, date, times[0]); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(ctx, "", doctorID); err != nil {
		return nil, err
	}
	return s.slots.Publish(ctx, strings.TrimSpace(doctorID), date, times)
}

func (s *Service) Availability(ctx context.Context, doctorID, date string) ([]Slot, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	return s.slots.PublishedSlots(ctx, doctorID, date)
}

// WithdrawSlot removes a free slot. Booked slots cannot be withdrawn.
func (s *Service) WithdrawSlot(ctx context.Context, doctorID, date, tod string) error {
	key, err := NewSlotKey(doctorID, date, tod)
	if err != nil {
		return err
	}
	err = s.locker.WithLock(ctx, key.LockKey(), func(ctx context.Context) error {
		return s.slots.Withdraw(ctx, key)
	})
	return slotLockError(key, err)
}

// transition runs mutate on a locked, fresh copy of the appointment and
// persists it when mutate reports a change. slotEffects run in the same
// transaction with the appointment's slot.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	op Op,
	mutate func(a *Appointment) (bool, error),
	slotEffects ...func(ctx context.Context, key SlotKey) error,
) (*Appointment, bool, error) {
	var (
		result  *Appointment
		changed bool
	)

	err := s.withAppointmentLock(ctx, id, func(ctx context.Context) error {
		return s.tx.Atomic(ctx, func(txCtx context.Context) error {
			appt, err := s.repo.GetForUpdate(txCtx, id)
			if err != nil {
				return err
			}
			ok, err := mutate(appt)
			if err != nil {
				return err
			}
			result = appt
			if !ok {
				return nil
			}

			appt.UpdatedAt = s.now().UTC()
			if err := s.repo.Update(txCtx, appt); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			for _, effect := range slotEffects {
				if err := effect(txCtx, appt.Slot()); err != nil {
					return fmt.Errorf("%s slot effect: %w", op, err)
				}
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		s.metrics.ObserveTransition(string(op), outcome(err))
		return nil, false, err
	}

	if changed {
		s.metrics.ObserveTransition(string(op), "ok")
		s.log.Info("appointment updated",
			zap.Stringer("appointment_id", result.ID),
			zap.String("operation", string(op)),
			zap.String("status", string(result.Status)),
		)
	} else {
		s.metrics.ObserveTransition(string(op), "noop")
	}
	return result, changed, nil
}

func (s *Service) withAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, "appointment:"+id.String(), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrAppointmentBusy
	}
	return err
}

func (s *Service) checkParticipants(ctx context.Context, patientID, doctorID string) error {
	if s.patients != nil && patientID != "" {
		ok, err := s.patients.PatientExists(ctx, patientID)
		if err != nil {
			return fmt.Errorf("check patient: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: unknown patient %q", ErrValidation, patientID)
		}
	}
	if s.doctors != nil && doctorID != "" {
		ok, err := s.doctors.DoctorExists(ctx, doctorID)
		if err != nil {
			return fmt.Errorf("check doctor: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: unknown doctor %q", ErrValidation, doctorID)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ EventType, appt *Appointment, prev *SlotKey) {
	s.events.publish(ctx, Event{
		ID:           uuid.New(),
		Type:         typ,
		Appointment:  *appt.clone(),
		PreviousSlot: prev,
		OccurredAt:   s.now().UTC(),
	})
}

// slotLockError reports a slot lock held by someone else as a lost race.
func slotLockError(key SlotKey, err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: %s is being booked", ErrSlotUnavailable, key)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAppointmentBusy):
		return "busy"
	default:
		return "error"
	}
}
