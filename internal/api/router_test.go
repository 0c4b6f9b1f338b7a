package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/lock"
	"github.com/hackgods/healthcare-booking-engine/internal/metrics"
	"github.com/hackgods/healthcare-booking-engine/internal/notify"
)

func newTestRouter(t *testing.T, checks ...DependencyCheck) http.Handler {
	t.Helper()
	store := appointment.NewMemoryStore()
	svc := appointment.NewService(store, store, store, lock.NewLocalLocker(), zap.NewNop())

	notes := notify.NewMemoryStore()
	svc.Register(notify.NewNotificationDispatcher(notes), notify.NewReminderDispatcher(notes, 1))

	return NewRouter(RouterConfig{
		Service:       svc,
		Notifications: notes,
		Reminders:     notes,
		Checks:        checks,
		Metrics:       metrics.NewCollector(prometheus.NewRegistry()),
		Logger:        zap.NewNop(),
		Env:           "test",
		Version:       "v0.0.0",
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func publish(t *testing.T, h http.Handler, times ...string) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/doctors/D1/slots", PublishSlotsRequest{Date: "2025-10-20", Times: times})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func bookVia(t *testing.T, h http.Handler, patient, tod string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: patient, DoctorID: "D1", Kind: "video", Date: "2025-10-20", Time: tod, Reason: "checkup",
	})
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	publish(t, h, "09:00", "10:00")

	rec := bookVia(t, h, "P1", "09:00")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "upcoming", appt.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = bookVia(t, h, "P2", "09:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule", RescheduleRequest{Date: "2025-10-20", Time: "10:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10:00", decodeBody[AppointmentResponse](t, rec).Time)

	rec = do(t, h, http.MethodGet, "/doctors/D1/slots?date=2025-10-20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decodeBody[[]SlotResponse](t, rec)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Free)
	assert.False(t, slots[1].Free)

	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decodeBody[AppointmentResponse](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/appointments?patient_id=P1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)
}

func TestCancelTwiceOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	publish(t, h, "09:00")

	appt := decodeBody[AppointmentResponse](t, bookVia(t, h, "P1", "09:00"))
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "cancelled", decodeBody[AppointmentResponse](t, rec).Status)
	}

	rec := bookVia(t, h, "P2", "09:00")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHospitalApprovalOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	publish(t, h, "09:00")
	hosp := "H1"

	rec := do(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: "P1", DoctorID: "D1", HospitalID: &hosp, Kind: "hospital", Date: "2025-10-20", Time: "09:00", Reason: "surgery consult",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", appt.Status)

	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upcoming", decodeBody[AppointmentResponse](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/appointments?hospital_id=H1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]AppointmentResponse](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/appointments", "not an object", http.StatusBadRequest, "invalid_request_body"},
		{"missing fields", http.MethodPost, "/appointments", BookAppointmentRequest{DoctorID: "D1"}, http.StatusBadRequest, "validation_error"},
		{"bad id", http.MethodGet, "/appointments/nope", nil, http.StatusBadRequest, "invalid_appointment_id"},
		{"unknown id", http.MethodGet, "/appointments/00000000-0000-0000-0000-000000000001", nil, http.StatusNotFound, "appointment_not_found"},
		{"list without owner", http.MethodGet, "/appointments", nil, http.StatusBadRequest, "validation_error"},
		{"slots without date", http.MethodGet, "/doctors/D1/slots", nil, http.StatusBadRequest, "validation_error"},
		{"withdraw unknown slot", http.MethodDelete, "/doctors/D1/slots/2025-10-20/09:00", nil, http.StatusNotFound, "slot_not_found"},
		{"unknown notification", http.MethodPost, "/notifications/00000000-0000-0000-0000-000000000001/read", nil, http.StatusNotFound, "notification_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestWithdrawSlot(t *testing.T) {
	h := newTestRouter(t)
	publish(t, h, "09:00", "10:00")
	bookVia(t, h, "P1", "10:00")

	rec := do(t, h, http.MethodDelete, "/doctors/D1/slots/2025-10-20/09:00", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/doctors/D1/slots/2025-10-20/10:00", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNotificationsAndReminders(t *testing.T) {
	h := newTestRouter(t)
	publish(t, h, "09:00")
	bookVia(t, h, "P1", "09:00")

	rec := do(t, h, http.MethodGet, "/patients/P1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decodeBody[[]notify.Notification](t, rec)
	require.Len(t, notes, 1)
	assert.False(t, notes[0].Read)

	rec = do(t, h, http.MethodPost, "/notifications/"+notes[0].ID.String()+"/read", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	notes = decodeBody[[]notify.Notification](t, do(t, h, http.MethodGet, "/patients/P1/notifications", nil))
	assert.True(t, notes[0].Read)

	rec = do(t, h, http.MethodGet, "/patients/P1/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reminders := decodeBody[[]notify.Reminder](t, rec)
	require.Len(t, reminders, 1)
	assert.Equal(t, "2025-10-19", reminders[0].RemindOn)
}

func TestHealthEndpoints(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	h := newTestRouter(t, DependencyCheck{Name: "postgres", Critical: true, Ping: up}, DependencyCheck{Name: "redis", Ping: down})

	rec := do(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	h = newTestRouter(t, DependencyCheck{Name: "postgres", Critical: true, Ping: down})
	rec = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
