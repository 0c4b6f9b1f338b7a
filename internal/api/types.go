package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID  string  `json:"patient_id"`
	DoctorID   string  `json:"doctor_id"`
	HospitalID *string `json:"hospital_id,omitempty"`
	Kind       string  `json:"kind"`
	Date       string  `json:"date"`
	Time       string  `json:"time"`
	Reason     string  `json:"reason"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type CompleteRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type PublishSlotsRequest struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  string    `json:"patient_id"`
	DoctorID   string    `json:"doctor_id"`
	HospitalID *string   `json:"hospital_id,omitempty"`
	Kind       string    `json:"kind"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		HospitalID: a.HospitalID,
		Kind:       string(a.Kind),
		Date:       a.Date,
		Time:       a.Time,
		Status:     string(a.Status),
		Reason:     a.Reason,
		Notes:      a.Notes,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toResponse(&list[i]))
	}
	return out
}

type SlotResponse struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Free     bool   `json:"free"`
}

func toSlotResponses(slots []appointment.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{DoctorID: s.DoctorID, Date: s.Date, Time: s.Time, Free: s.Free})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
