package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
	"github.com/hackgods/healthcare-booking-engine/internal/notify"
)

type RouterConfig struct {
	Service       *appointment.Service
	Notifications notify.NotificationStore
	Reminders     notify.ReminderStore
	Checks        []DependencyCheck
	Metrics       *metrics.Collector
	Logger        *zap.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	svc := cfg.Service
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(svc, log))
		r.Get("/", listAppointmentsHandler(svc, log))
		r.Get("/{id}", getAppointmentHandler(svc, log))
		r.Post("/{id}/approve", approveAppointmentHandler(svc, log))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(svc, log))
		r.Post("/{id}/cancel", cancelAppointmentHandler(svc, log))
		r.Post("/{id}/complete", completeAppointmentHandler(svc, log))
	})

	r.Route("/doctors/{doctorID}/slots", func(r chi.Router) {
		r.Post("/", publishSlotsHandler(svc, log))
		r.Get("/", listSlotsHandler(svc, log))
		r.Delete("/{date}/{time}", withdrawSlotHandler(svc, log))
	})

	if cfg.Notifications != nil {
		r.Get("/patients/{patientID}/notifications", listNotificationsHandler(cfg.Notifications, log))
		r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Notifications, log))
	}
	if cfg.Reminders != nil {
		r.Get("/patients/{patientID}/reminders", listRemindersHandler(cfg.Reminders, log))
	}

	return r
}
