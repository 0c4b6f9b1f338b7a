package notify

import (
	"fmt"
	"strings"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
)

const (
	shortWhen = "Jan 02, 2006 at 03:04 PM"
	longWhen  = "January 02, 2006 at 03:04 PM"
)

func when(key appointment.SlotKey, layout string) string {
	return key.Start().Format(layout)
}

// notificationText returns the in-app text for an event and false for events
// that produce no notification.
func notificationText(ev appointment.Event) (typ, text string, ok bool) {
	at := when(ev.Appointment.Slot(), shortWhen)
	switch ev.Type {
	case appointment.EventBooked:
		if ev.Appointment.Status == appointment.StatusPending {
			return "appointment_requested", "Your appointment request for " + at + " is awaiting hospital approval", true
		}
		return "appointment_booked", "Your appointment has been booked for " + at, true
	case appointment.EventApproved:
		return "appointment_confirmed", "Your appointment has been confirmed for " + at, true
	case appointment.EventRescheduled:
		return "appointment_rescheduled", "Your appointment has been rescheduled to " + at, true
	case appointment.EventCancelled:
		return "appointment_cancelled", "Your appointment scheduled for " + at + " has been cancelled.", true
	default:
		return "", "", false
	}
}

func reminderText(typ appointment.EventType, key appointment.SlotKey) string {
	if typ == appointment.EventRescheduled {
		return "You have a rescheduled appointment for " + when(key, shortWhen)
	}
	return "You have an appointment scheduled for " + when(key, shortWhen)
}

func reminderSMS(r Reminder) string {
	return fmt.Sprintf("Reminder: %s on %s", r.Message, r.RemindOn)
}

// confirmationEmail renders the email for an event and false for events that
// are not confirmed by email.
func confirmationEmail(ev appointment.Event, patientName string) (subject, body string, ok bool) {
	a := ev.Appointment
	var headline, detailsTitle, closing string

	switch ev.Type {
	case appointment.EventBooked:
		subject = "Appointment Confirmation - Healthcare System"
		headline = "Your appointment has been successfully booked!"
		detailsTitle = "Appointment Details:"
		closing = "If you need to reschedule or cancel, please contact us."
	case appointment.EventRescheduled:
		subject = "Appointment Rescheduled - Healthcare System"
		headline = "Your appointment has been successfully rescheduled!"
		detailsTitle = "Updated Appointment Details:"
		closing = "If you need to cancel, please contact us."
	case appointment.EventCancelled:
		subject = "Appointment Cancelled - Healthcare System"
		headline = "Your appointment has been cancelled."
		detailsTitle = "Cancelled Appointment:"
		closing = "You can book a new appointment at any time."
	default:
		return "", "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", patientName)
	fmt.Fprintf(&b, "%s\n\n", headline)
	fmt.Fprintf(&b, "%s\n", detailsTitle)
	fmt.Fprintf(&b, "Date & Time: %s\n", when(a.Slot(), longWhen))
	fmt.Fprintf(&b, "Doctor ID: %s\n", a.DoctorID)
	if a.HospitalID != nil {
		fmt.Fprintf(&b, "Hospital ID: %s\n", *a.HospitalID)
	}
	if a.Status == appointment.StatusPending {
		b.WriteString("Status: awaiting hospital approval\n")
	}
	b.WriteString("\n")
	if ev.Type != appointment.EventCancelled {
		b.WriteString("Please arrive 15 minutes early for your appointment.\n\n")
	}
	fmt.Fprintf(&b, "%s\n\n", closing)
	b.WriteString("Best regards,\nHealthcare Appointment System")

	return subject, b.String(), true
}
