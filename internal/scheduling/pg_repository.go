package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves auto-commit reads and transactional orchestrations.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Stores() Stores {
	return storesOn(r.pool)
}

// InTx runs fn against stores bound to a single transaction. Row locks taken
// by the claim and decrement statements serialize concurrent orchestrations
// touching the same date or vaccine; any error from fn rolls everything back.
func (r *PgRepository) InTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(storesOn(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit tx", err)
	}
	return nil
}

func storesOn(q querier) Stores {
	return Stores{
		Availability: &pgAvailability{q: q},
		Inventory:    &pgInventory{q: q},
		Ledger:       &pgLedger{q: q},
	}
}

// storeErr tags infrastructure failures so callers can tell retryable
// outages apart from terminal domain errors.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.Date,
		&a.Caregiver,
		&a.Vaccine,
		&a.Patient,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storeErr("scan appointment", err)
	}
	return &a, nil
}

// Availability store

type pgAvailability struct {
	q querier
}

func (s *pgAvailability) Offer(ctx context.Context, date time.Time, caregiver string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availabilities (avail_date, caregiver)
		VALUES ($1, $2)
	`, date, caregiver)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return storeErr("offer slot", err)
	}
	return nil
}

func (s *pgAvailability) ClaimAny(ctx context.Context, date time.Time) (string, error) {
	// The subselect locks the chosen row, so two transactions claiming the
	// same date cannot both walk away with the same caregiver.
	row := s.q.QueryRow(ctx, `
		DELETE FROM availabilities
		WHERE avail_date = $1
		  AND caregiver = (
			SELECT caregiver
			FROM availabilities
			WHERE avail_date = $1
			ORDER BY caregiver ASC
			LIMIT 1
			FOR UPDATE
		  )
		RETURNING caregiver
	`, date)

	var caregiver string
	if err := row.Scan(&caregiver); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoSlotAvailable
		}
		return "", storeErr("claim slot", err)
	}
	return caregiver, nil
}

func (s *pgAvailability) Restore(ctx context.Context, date time.Time, caregiver string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availabilities (avail_date, caregiver)
		VALUES ($1, $2)
		ON CONFLICT (avail_date, caregiver) DO NOTHING
	`, date, caregiver)
	if err != nil {
		return storeErr("restore slot", err)
	}
	return nil
}

func (s *pgAvailability) ListByDate(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT caregiver
		FROM availabilities
		WHERE avail_date = $1
		ORDER BY caregiver ASC
	`, date)
	if err != nil {
		return nil, storeErr("list availabilities", err)
	}
	defer rows.Close()

	var caregivers []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, storeErr("scan availability", err)
		}
		caregivers = append(caregivers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list availabilities", err)
	}
	return caregivers, nil
}

// Inventory store

type pgInventory struct {
	q querier
}

func (s *pgInventory) Decrement(ctx context.Context, vaccine string, n int) (int, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE vaccines
		SET doses = doses - $2
		WHERE name = $1 AND doses >= $2
		RETURNING doses
	`, vaccine, n)

	var doses int
	if err := row.Scan(&doses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientDoses
		}
		return 0, storeErr("decrement doses", err)
	}
	return doses, nil
}

func (s *pgInventory) Increment(ctx context.Context, vaccine string, n int) (int, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO vaccines (name, doses)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET doses = vaccines.doses + EXCLUDED.doses
		RETURNING doses
	`, vaccine, n)

	var doses int
	if err := row.Scan(&doses); err != nil {
		return 0, storeErr("increment doses", err)
	}
	return doses, nil
}

func (s *pgInventory) Get(ctx context.Context, vaccine string) (int, error) {
	row := s.q.QueryRow(ctx, `
		SELECT doses
		FROM vaccines
		WHERE name = $1
	`, vaccine)

	var doses int
	if err := row.Scan(&doses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVaccineNotFound
		}
		return 0, storeErr("get vaccine", err)
	}
	return doses, nil
}

func (s *pgInventory) List(ctx context.Context) ([]Vaccine, error) {
	rows, err := s.q.Query(ctx, `
		SELECT name, doses
		FROM vaccines
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, storeErr("list vaccines", err)
	}
	defer rows.Close()

	var vaccines []Vaccine
	for rows.Next() {
		var v Vaccine
		if err := rows.Scan(&v.Name, &v.Doses); err != nil {
			return nil, storeErr("scan vaccine", err)
		}
		vaccines = append(vaccines, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list vaccines", err)
	}
	return vaccines, nil
}

// Appointment ledger

type pgLedger struct {
	q querier
}

func (s *pgLedger) Insert(ctx context.Context, a Appointment) (int64, error) {
	// id is a BIGSERIAL, so ids stay strictly increasing and are never
	// reused even after deletions.
	row := s.q.QueryRow(ctx, `
		INSERT INTO appointments (appt_date, caregiver, vaccine, patient, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, a.Date, a.Caregiver, a.Vaccine, a.Patient)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, storeErr("insert appointment", err)
	}
	return id, nil
}

func (s *pgLedger) Get(ctx context.Context, id int64) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appt_date, caregiver, vaccine, patient, created_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *pgLedger) Delete(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return storeErr("delete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *pgLedger) ListByPatient(ctx context.Context, patient string) ([]Appointment, error) {
	return s.list(ctx, `
		SELECT id, appt_date, caregiver, vaccine, patient, created_at
		FROM appointments
		WHERE patient = $1
		ORDER BY id ASC
	`, patient)
}

func (s *pgLedger) ListByCaregiver(ctx context.Context, caregiver string) ([]Appointment, error) {
	return s.list(ctx, `
		SELECT id, appt_date, caregiver, vaccine, patient, created_at
		FROM appointments
		WHERE caregiver = $1
		ORDER BY id ASC
	`, caregiver)
}

func (s *pgLedger) list(ctx context.Context, sql, arg string) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, sql, arg)
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list appointments", err)
	}
	return result, nil
}
