package worker

import (
	"strings"

	"clinicbook/internal/models"
)

const (
	defaultDayBeforeTemplate = `Hello {patient_name}!

This is a reminder that you have an appointment *tomorrow*:

Date: {date}
Time: {time}
Service: {service}

If you need to reschedule or cancel, please contact {clinic_name} at {clinic_phone}.

See you tomorrow!`

	defaultHourBeforeTemplate = `Hello {patient_name}!

Your appointment is *in 1 hour*:

Time: {time}
Service: {service}

We are expecting you at {clinic_name}!`

	defaultConfirmationTemplate = `Hello {patient_name}!

Your appointment at {clinic_name} is confirmed for {date} at {time} ({service}).`
)

// templateFor returns the tenant override for the reminder type, falling
// back to the built-in text.
func templateFor(tenant *models.Tenant, reminderType string) string {
	if tmpl := strings.TrimSpace(tenant.Reminders.Template(reminderType)); tmpl != "" {
		return tmpl
	}
	switch reminderType {
	case models.Reminder1h:
		return defaultHourBeforeTemplate
	case models.ReminderConfirmation:
		return defaultConfirmationTemplate
	default:
		return defaultDayBeforeTemplate
	}
}

// Render fills the reminder template. Dates are shown in the tenant time zone;
// unknown placeholders are left as they are.
func Render(tenant *models.Tenant, d *models.ReminderDelivery) string {
	start := d.Booking.Start.In(tenant.Location())
	r := strings.NewReplacer(
		"{patient_name}", d.Patient.FirstName(),
		"{full_name}", d.Patient.Name,
		"{date}", start.Format("Monday, 02/01/2006"),
		"{time}", start.Format("15:04"),
		"{service}", d.Booking.ServiceName,
		"{clinic_name}", tenant.Name,
		"{clinic_phone}", tenant.Phone,
	)
	return r.Replace(templateFor(tenant, d.Reminder.Type))
}
