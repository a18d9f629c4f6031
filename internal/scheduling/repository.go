package scheduling

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateSlot        = errors.New("caregiver already offers this date")
	ErrNoSlotAvailable      = errors.New("no slot available for this date")
	ErrInsufficientDoses    = errors.New("not enough available doses")
	ErrVaccineNotFound      = errors.New("vaccine not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrNoCaregiverAvailable = errors.New("no caregiver is available")
	ErrUnauthorized         = errors.New("not allowed to act on this appointment")

	// ErrStoreUnavailable marks transient infrastructure failures. It is the
	// only error a caller may retry without changing inputs.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AvailabilityStore holds the (date, caregiver) slots caregivers have offered.
type AvailabilityStore interface {
	// Offer inserts a slot. Returns ErrDuplicateSlot if the pair exists.
	Offer(ctx context.Context, date time.Time, caregiver string) error

	// ClaimAny removes and returns the slot for date whose caregiver sorts
	// lexicographically smallest. Returns ErrNoSlotAvailable if none exist.
	ClaimAny(ctx context.Context, date time.Time) (string, error)

	// Restore reinserts a slot removed by a claim.
	Restore(ctx context.Context, date time.Time, caregiver string) error

	// ListByDate returns caregivers offering the date, ascending.
	ListByDate(ctx context.Context, date time.Time) ([]string, error)
}

// InventoryStore holds per-vaccine dose counters. Counts never go negative.
type InventoryStore interface {
	// Decrement reduces the count by n and returns the new count.
	// Returns ErrInsufficientDoses if the vaccine is unknown or count < n.
	Decrement(ctx context.Context, vaccine string, n int) (int, error)

	// Increment raises the count by n and returns the new count. An unknown
	// vaccine is created with count n, n = 0 included.
	Increment(ctx context.Context, vaccine string, n int) (int, error)

	// Get returns the current count, or ErrVaccineNotFound.
	Get(ctx context.Context, vaccine string) (int, error)

	// List returns all vaccines ordered by name.
	List(ctx context.Context) ([]Vaccine, error)
}

// AppointmentLedger is the source of truth for booked appointments.
// Ids are strictly increasing and never reused, even after deletions.
type AppointmentLedger interface {
	Insert(ctx context.Context, a Appointment) (int64, error)
	Get(ctx context.Context, id int64) (*Appointment, error)

	// Delete removes the record. Returns ErrAppointmentNotFound if absent.
	Delete(ctx context.Context, id int64) error

	ListByPatient(ctx context.Context, patient string) ([]Appointment, error)
	ListByCaregiver(ctx context.Context, caregiver string) ([]Appointment, error)
}

// Stores bundles the three stores so an orchestration can touch all of them
// through one transaction handle.
type Stores struct {
	Availability AvailabilityStore
	Inventory    InventoryStore
	Ledger       AppointmentLedger
}

// Repository gives the engines store access. Stores() is auto-commit and
// suitable for single-statement operations and reads; InTx runs fn against
// stores bound to one transaction and rolls every effect back if fn errors.
type Repository interface {
	Stores() Stores
	InTx(ctx context.Context, fn func(Stores) error) error
}
