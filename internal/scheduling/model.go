package scheduling

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for appointment dates.
const DateLayout = "2006-01-02"

type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleCaregiver:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Vaccine struct {
	Name  string
	Doses int
}

type Appointment struct {
	ID        int64
	Date      time.Time
	Caregiver string
	Vaccine   string
	Patient   string
	CreatedAt time.Time
}

// Reservation is what a successful booking hands back to the caller.
type Reservation struct {
	AppointmentID int64
	Caregiver     string
}

// ScheduleEntry is one row of the daily schedule view: a caregiver
// available on the date paired with a vaccine that still has doses.
type ScheduleEntry struct {
	Caregiver string
	Vaccine   string
	Doses     int
}

// AppointmentSummary is the listing view for one side of an appointment.
// Counterparty is the patient when a caregiver asks, and vice versa.
type AppointmentSummary struct {
	ID           int64
	Vaccine      string
	Date         time.Time
	Counterparty string
}

// ParseDate normalizes a calendar date, dropping any time-of-day part.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// DateKey is the canonical map/lock key for a date.
func DateKey(d time.Time) string {
	return d.Format(DateLayout)
}
