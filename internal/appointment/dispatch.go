package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
)

type EventType string

const (
	EventBooked      EventType = "booked"
	EventApproved    EventType = "approved"
	EventRescheduled EventType = "rescheduled"
	EventCancelled   EventType = "cancelled"
	EventCompleted   EventType = "completed"
)

// Event describes a committed appointment change. Appointment is a snapshot
// taken right after the commit.
type Event struct {
	ID           uuid.UUID
	Type         EventType
	Appointment  Appointment
	PreviousSlot *SlotKey
	OccurredAt   time.Time
}

// Dispatcher reacts to committed events. Errors are logged by the service and
// never reach the caller of the booking operation.
type Dispatcher interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc struct {
	Label string
	Fn    func(ctx context.Context, ev Event) error
}

func (f DispatcherFunc) Name() string { return f.Label }

func (f DispatcherFunc) Handle(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }

// fanout delivers each event to every dispatcher in registration order.
type fanout struct {
	mu          sync.RWMutex
	dispatchers []Dispatcher
	log         *zap.Logger
	metrics     *metrics.Collector

	queue  chan queuedEvent
	done   chan struct{}
	closed bool
}

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

func newFanout(log *zap.Logger, m *metrics.Collector) *fanout {
	return &fanout{log: log, metrics: m}
}

func (f *fanout) register(ds ...Dispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchers = append(f.dispatchers, ds...)
}

// startAsync moves delivery onto one background goroutine. Ordering across
// events is preserved because there is a single consumer.
func (f *fanout) startAsync(buffer int) {
	if buffer <= 0 {
		buffer = 1
	}
	f.queue = make(chan queuedEvent, buffer)
	f.done = make(chan struct{})
	go f.worker()
}

func (f *fanout) worker() {
	defer close(f.done)
	for q := range f.queue {
		f.deliver(q.ctx, q.ev)
	}
}

func (f *fanout) publish(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	if f.queue == nil || !f.enqueue(ctx, ev) {
		f.deliver(ctx, ev)
	}
}

// enqueue reports false when the queue is closed or full.
func (f *fanout) enqueue(ctx context.Context, ev Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- queuedEvent{ctx: ctx, ev: ev}:
		return true
	default:
		f.metrics.DispatchQueueFull()
		f.log.Warn("dispatch queue full, delivering inline",
			zap.String("event", string(ev.Type)),
			zap.Stringer("appointment_id", ev.Appointment.ID),
		)
		return false
	}
}

func (f *fanout) deliver(ctx context.Context, ev Event) {
	f.mu.RLock()
	ds := make([]Dispatcher, len(f.dispatchers))
	copy(ds, f.dispatchers)
	f.mu.RUnlock()

	for _, d := range ds {
		start := time.Now()
		err := f.safeHandle(ctx, d, ev)
		f.metrics.ObserveDispatch(d.Name(), string(ev.Type), time.Since(start), err != nil)
		if err != nil {
			f.log.Error("dispatcher failed",
				zap.String("dispatcher", d.Name()),
				zap.String("event", string(ev.Type)),
				zap.Stringer("event_id", ev.ID),
				zap.Stringer("appointment_id", ev.Appointment.ID),
				zap.Error(err),
			)
		}
	}
}

func (f *fanout) safeHandle(ctx context.Context, d Dispatcher, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	return d.Handle(ctx, ev)
}

// close drains the async queue. It waits at most timeout.
func (f *fanout) close(timeout time.Duration) {
	if f.queue == nil {
		return
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	select {
	case <-f.done:
	case <-time.After(timeout):
		f.log.Warn("dispatch shutdown timed out; some events may not be delivered")
	}
}
