// Package app wires the booking engine from configuration. The commands
// share it so the API server, the reminder worker and the tools all run the
// same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/api"
	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/config"
	"github.com/hackgods/healthcare-booking-engine/internal/db"
	"github.com/hackgods/healthcare-booking-engine/internal/directory"
	"github.com/hackgods/healthcare-booking-engine/internal/lock"
	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
	"github.com/hackgods/healthcare-booking-engine/internal/notify"
	redisclient "github.com/hackgods/healthcare-booking-engine/internal/redis"
)

type Directory interface {
	appointment.PatientDirectory
	appointment.DoctorDirectory
	notify.ContactBook
	UpsertPatient(ctx context.Context, p directory.Patient) error
	UpsertDoctor(ctx context.Context, d directory.Doctor) error
}

type NotifyStore interface {
	notify.NotificationStore
	notify.ReminderStore
	notify.EventLogStore
}

// Engine is a fully wired booking engine.
type Engine struct {
	Service   *appointment.Service
	Slots     appointment.AvailabilityStore
	Notify    NotifyStore
	Directory Directory
	Reminders *notify.ReminderService
	Checks    []api.DependencyCheck
	Metrics   *metrics.Collector

	log     *zap.Logger
	closers []func()
}

// Build connects the configured backends and registers the side-effect
// dispatchers. reg may be nil to skip metrics.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (_ *Engine, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{log: log}
	defer func() {
		if err != nil {
			e.Close(0)
		}
	}()
	if reg != nil {
		e.Metrics = metrics.NewCollector(reg)
	}

	var (
		repo  appointment.Repository
		slots appointment.AvailabilityStore
		tx    appointment.Transactor
		opts  = []appointment.Option{appointment.WithMetrics(e.Metrics)}
	)

	switch cfg.StoreBackend {
	case config.StorePostgres:
		if cfg.AutoMigrate {
			if err = db.Migrate(cfg.PostgresDSN); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			log.Info("migrations applied")
		}

		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		e.Checks = append(e.Checks, api.DependencyCheck{Name: "postgres", Critical: true, Ping: pool.Ping})
		log.Info("connected to postgres")

		repo = appointment.NewPgRepository(pool)
		slots = appointment.NewPgAvailabilityStore(pool)
		tx = db.NewTransactor(pool)

		dir := directory.NewPgDirectory(pool)
		e.Directory = dir
		e.Notify = notify.NewPgStore(pool)
		opts = append(opts, appointment.WithDirectories(dir, dir))

	case config.StoreMemory:
		store := appointment.NewMemoryStore()
		repo, slots, tx = store, store, store
		e.Directory = directory.NewStatic()
		e.Notify = notify.NewMemoryStore()
		log.Warn("using in-memory store; state is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	e.Slots = slots

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		})
		e.Checks = append(e.Checks, api.DependencyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	default:
		locker = lock.NewLocalLocker()
	}

	if cfg.DispatchAsync {
		opts = append(opts, appointment.WithAsyncDispatch(cfg.DispatchBuffer))
	}
	e.Service = appointment.NewService(repo, slots, tx, locker, log, opts...)

	sink := messageSink(cfg, log)
	e.Service.Register(
		notify.NewNotificationDispatcher(e.Notify),
		notify.NewReminderDispatcher(e.Notify, cfg.ReminderLead),
		notify.NewConfirmationSender(e.Directory, sink, log),
		notify.NewEventLogDispatcher(e.Notify),
	)
	e.Reminders = notify.NewReminderService(e.Notify, e.Service, e.Directory, sink, log, e.Metrics)

	return e, nil
}

// messageSink sends email through SendGrid when a key is configured and logs
// everything else.
func messageSink(cfg config.Config, log *zap.Logger) notify.MessageSink {
	logSink := notify.NewLogSink(log)
	sink := notify.ChannelSink{Email: logSink, SMS: logSink, Fallback: logSink}

	sg := notify.NewSendGridSink(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.MailFrom,
		FromName:  cfg.MailFromName,
	}, log)
	if sg != nil {
		sink.Email = sg
		log.Info("email delivery via sendgrid enabled")
	}
	return sink
}

// Close drains pending events and releases connections in reverse order.
func (e *Engine) Close(timeout time.Duration) {
	if e.Service != nil {
		e.Service.Close(timeout)
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
