package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/vaxsched/vaccine-scheduler/internal/redis"
)

// Service holds the booking and cancellation engines. It is the only caller
// of the three stores; nothing else mutates slot, dose, or appointment state.
// The service itself is stateless between calls: the acting identity comes in
// as an argument on every operation.
type Service struct {
	repo   Repository
	locker redisclient.Locker
}

func NewService(repo Repository, locker redisclient.Locker) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
	}
}

func dateLockKey(date time.Time) string {
	return fmt.Sprintf("date:%s", DateKey(date))
}

func vaccineLockKey(vaccine string) string {
	return fmt.Sprintf("vaccine:%s", vaccine)
}

// Reserve books one appointment for patient on date: it claims the
// lexicographically smallest caregiver slot, consumes one dose of vaccine,
// and records the appointment. The three effects happen inside one
// transaction under the date and vaccine locks, so a failure at any step
// leaves no partial state and concurrent calls can neither share a slot nor
// drive doses negative.
func (s *Service) Reserve(ctx context.Context, date time.Time, vaccine, patient string) (*Reservation, error) {
	var res *Reservation

	err := s.locker.WithKeys(ctx, []string{dateLockKey(date), vaccineLockKey(vaccine)}, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(st Stores) error {
			doses, err := st.Inventory.Get(lockCtx, vaccine)
			if err != nil {
				if errors.Is(err, ErrVaccineNotFound) {
					return ErrInsufficientDoses
				}
				return fmt.Errorf("check inventory: %w", err)
			}
			if doses == 0 {
				return ErrInsufficientDoses
			}

			caregiver, err := st.Availability.ClaimAny(lockCtx, date)
			if err != nil {
				if errors.Is(err, ErrNoSlotAvailable) {
					return ErrNoCaregiverAvailable
				}
				return fmt.Errorf("claim slot: %w", err)
			}

			if _, err := st.Inventory.Decrement(lockCtx, vaccine, 1); err != nil {
				return fmt.Errorf("consume dose: %w", err)
			}

			id, err := st.Ledger.Insert(lockCtx, Appointment{
				Date:      date,
				Caregiver: caregiver,
				Vaccine:   vaccine,
				Patient:   patient,
			})
			if err != nil {
				return fmt.Errorf("record appointment: %w", err)
			}

			res = &Reservation{AppointmentID: id, Caregiver: caregiver}
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("reserve: %w", errors.Join(ErrStoreUnavailable, err))
		}
		return nil, err
	}

	return res, nil
}

// Cancel reverses a booking: it removes the ledger record, restores the
// caregiver's slot, and returns the dose to inventory, as one transaction.
// Only the appointment's own patient or caregiver may cancel it. The former
// appointment fields are returned for display.
func (s *Service) Cancel(ctx context.Context, id int64, actor string, role Role) (*Appointment, error) {
	appt, err := s.repo.Stores().Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch role {
	case RoleCaregiver:
		if appt.Caregiver != actor {
			return nil, ErrUnauthorized
		}
	case RolePatient:
		if appt.Patient != actor {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrUnauthorized
	}

	err = s.locker.WithKeys(ctx, []string{dateLockKey(appt.Date), vaccineLockKey(appt.Vaccine)}, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(st Stores) error {
			// Re-checked under the lock: a concurrent cancel may have won.
			if err := st.Ledger.Delete(lockCtx, id); err != nil {
				return err
			}
			if err := st.Availability.Restore(lockCtx, appt.Date, appt.Caregiver); err != nil {
				return fmt.Errorf("restore slot: %w", err)
			}
			if _, err := st.Inventory.Increment(lockCtx, appt.Vaccine, 1); err != nil {
				return fmt.Errorf("return dose: %w", err)
			}
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("cancel: %w", errors.Join(ErrStoreUnavailable, err))
		}
		return nil, err
	}

	return appt, nil
}

// UploadAvailability registers a caregiver's slot offer for a date.
func (s *Service) UploadAvailability(ctx context.Context, caregiver string, date time.Time) error {
	return s.repo.Stores().Availability.Offer(ctx, date, caregiver)
}

// AddDoses stocks delta doses of a vaccine, creating it on first sight.
// delta = 0 on an unseen vaccine creates an empty entry, matching add_doses
// semantics.
func (s *Service) AddDoses(ctx context.Context, vaccine string, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("dose delta must not be negative, got %d", delta)
	}
	return s.repo.Stores().Inventory.Increment(ctx, vaccine, delta)
}

// Schedule returns each caregiver available on date paired with every
// vaccine that still has doses, ordered by caregiver ascending.
func (s *Service) Schedule(ctx context.Context, date time.Time) ([]ScheduleEntry, error) {
	st := s.repo.Stores()

	caregivers, err := st.Availability.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}

	vaccines, err := st.Inventory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}

	var entries []ScheduleEntry
	for _, cg := range caregivers {
		for _, v := range vaccines {
			if v.Doses > 0 {
				entries = append(entries, ScheduleEntry{
					Caregiver: cg,
					Vaccine:   v.Name,
					Doses:     v.Doses,
				})
			}
		}
	}
	return entries, nil
}

// Appointments lists the caller's appointments ordered by id ascending,
// with the counterparty identity on each row.
func (s *Service) Appointments(ctx context.Context, identity string, role Role) ([]AppointmentSummary, error) {
	ledger := s.repo.Stores().Ledger

	var (
		appts []Appointment
		err   error
	)
	switch role {
	case RoleCaregiver:
		appts, err = ledger.ListByCaregiver(ctx, identity)
	case RolePatient:
		appts, err = ledger.ListByPatient(ctx, identity)
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	summaries := make([]AppointmentSummary, 0, len(appts))
	for _, a := range appts {
		counterparty := a.Patient
		if role == RolePatient {
			counterparty = a.Caregiver
		}
		summaries = append(summaries, AppointmentSummary{
			ID:           a.ID,
			Vaccine:      a.Vaccine,
			Date:         a.Date,
			Counterparty: counterparty,
		})
	}
	return summaries, nil
}
