package scheduling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redisclient "github.com/vaxsched/vaccine-scheduler/internal/redis"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, redisclient.NoopLocker{}), repo
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %s: %v", s, err)
	}
	return d
}

func TestReserve_Success(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	res, err := svc.Reserve(ctx, date, "pfizer", "bob")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.AppointmentID != 1 {
		t.Errorf("expected appointment id 1, got %d", res.AppointmentID)
	}
	if res.Caregiver != "alice" {
		t.Errorf("expected caregiver alice, got %s", res.Caregiver)
	}

	doses, err := repo.Stores().Inventory.Get(ctx, "pfizer")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if doses != 4 {
		t.Errorf("expected 4 doses after reserve, got %d", doses)
	}

	slots, err := repo.Stores().Availability.ListByDate(ctx, date)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots left for date, got %v", slots)
	}
}

func TestReserve_PicksLexicographicallySmallestCaregiver(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-07-01")

	for _, cg := range []string{"carol", "alice", "bob"} {
		if err := svc.UploadAvailability(ctx, cg, date); err != nil {
			t.Fatalf("upload availability %s: %v", cg, err)
		}
	}
	if _, err := svc.AddDoses(ctx, "moderna", 3); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	want := []string{"alice", "bob", "carol"}
	for _, expected := range want {
		res, err := svc.Reserve(ctx, date, "moderna", "pat")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if res.Caregiver != expected {
			t.Errorf("expected caregiver %s, got %s", expected, res.Caregiver)
		}
	}
}

func TestReserve_NoCaregiverAvailable(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	if _, err := svc.AddDoses(ctx, "moderna", 10); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	_, err := svc.Reserve(ctx, mustDate(t, "2024-06-01"), "moderna", "bob")
	if !errors.Is(err, ErrNoCaregiverAvailable) {
		t.Fatalf("expected ErrNoCaregiverAvailable, got: %v", err)
	}

	// Inventory must be untouched by the failed attempt.
	doses, err := repo.Stores().Inventory.Get(ctx, "moderna")
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if doses != 10 {
		t.Errorf("expected 10 doses, got %d", doses)
	}
}

func TestReserve_InsufficientDoses(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}

	// Unknown vaccine
	if _, err := svc.Reserve(ctx, date, "pfizer", "bob"); !errors.Is(err, ErrInsufficientDoses) {
		t.Fatalf("expected ErrInsufficientDoses for unknown vaccine, got: %v", err)
	}

	// Vaccine stocked with zero doses
	if _, err := svc.AddDoses(ctx, "pfizer", 0); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	if doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer"); doses != 0 {
		t.Fatalf("expected zero-dose entry, got %d", doses)
	}
	if _, err := svc.Reserve(ctx, date, "pfizer", "bob"); !errors.Is(err, ErrInsufficientDoses) {
		t.Fatalf("expected ErrInsufficientDoses at zero doses, got: %v", err)
	}

	// The slot must survive both failed attempts.
	slots, err := repo.Stores().Availability.ListByDate(ctx, date)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if len(slots) != 1 || slots[0] != "alice" {
		t.Errorf("expected alice's slot intact, got %v", slots)
	}
}

func TestReserve_DoseConservationAcrossVaccines(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-02")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "moderna", 7); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	if _, err := svc.Reserve(ctx, date, "pfizer", "bob"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer"); doses != 4 {
		t.Errorf("expected pfizer at 4, got %d", doses)
	}
	if doses, _ := repo.Stores().Inventory.Get(ctx, "moderna"); doses != 7 {
		t.Errorf("moderna must be unaffected, got %d", doses)
	}
}

func TestCancel_IsExactInverseOfReserve(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if err := svc.UploadAvailability(ctx, "carol", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	res, err := svc.Reserve(ctx, date, "pfizer", "bob")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	appt, err := svc.Cancel(ctx, res.AppointmentID, "bob", RolePatient)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if appt.Caregiver != "alice" || appt.Vaccine != "pfizer" || appt.Patient != "bob" {
		t.Errorf("unexpected cancelled appointment: %+v", appt)
	}
	if DateKey(appt.Date) != "2024-05-01" {
		t.Errorf("unexpected date: %s", DateKey(appt.Date))
	}

	// Slot set restored exactly: alice and carol both offer the date again.
	slots, err := repo.Stores().Availability.ListByDate(ctx, date)
	if err != nil {
		t.Fatalf("list availability: %v", err)
	}
	if len(slots) != 2 || slots[0] != "alice" || slots[1] != "carol" {
		t.Errorf("expected [alice carol], got %v", slots)
	}

	if doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer"); doses != 5 {
		t.Errorf("expected doses back at 5, got %d", doses)
	}

	if _, err := repo.Stores().Ledger.Get(ctx, res.AppointmentID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ledger record gone, got: %v", err)
	}
}

func TestCancel_Authorization(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	res, err := svc.Reserve(ctx, date, "pfizer", "bob")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	cases := []struct {
		name  string
		actor string
		role  Role
	}{
		{"other patient", "mallory", RolePatient},
		{"other caregiver", "mallory", RoleCaregiver},
		{"patient posing as caregiver", "bob", RoleCaregiver},
		{"caregiver posing as patient", "alice", RolePatient},
		{"unknown role", "bob", Role("admin")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Cancel(ctx, res.AppointmentID, tc.actor, tc.role); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got: %v", err)
			}
		})
	}

	// Nothing changed while the unauthorized attempts failed.
	if doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer"); doses != 4 {
		t.Errorf("expected doses still at 4, got %d", doses)
	}
	if _, err := repo.Stores().Ledger.Get(ctx, res.AppointmentID); err != nil {
		t.Errorf("appointment must still exist: %v", err)
	}

	// The caregiver on the appointment may cancel it.
	if _, err := svc.Cancel(ctx, res.AppointmentID, "alice", RoleCaregiver); err != nil {
		t.Fatalf("caregiver cancel: %v", err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Cancel(context.Background(), 42, "bob", RolePatient)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got: %v", err)
	}
}

// outageLocker fails every acquisition the way redisKeyLocker does when the
// server is unreachable.
type outageLocker struct{}

func (outageLocker) WithKeys(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return errors.Join(redisclient.ErrLockNotAcquired, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"))
}

func TestReserveAndCancel_RedisOutageIsRetryable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, outageLocker{})
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	seed := NewService(repo, redisclient.NoopLocker{})
	if err := seed.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := seed.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	res, err := seed.Reserve(ctx, date, "pfizer", "bob")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := svc.Reserve(ctx, date, "pfizer", "carol"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from reserve, got: %v", err)
	}
	if _, err := svc.Cancel(ctx, res.AppointmentID, "bob", RolePatient); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from cancel, got: %v", err)
	}

	// The outage changed nothing: the first booking still stands alone.
	if doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer"); doses != 4 {
		t.Errorf("expected 4 doses untouched, got %d", doses)
	}
	if _, err := repo.Stores().Ledger.Get(ctx, res.AppointmentID); err != nil {
		t.Errorf("appointment lost during outage: %v", err)
	}
}

func TestAppointmentIDs_MonotonicAndNeverReused(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if _, err := svc.AddDoses(ctx, "pfizer", 10); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	// One slot is enough: each iteration's cancel restores it.
	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}

	var lastID int64
	for i := 0; i < 5; i++ {
		res, err := svc.Reserve(ctx, date, "pfizer", "bob")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if res.AppointmentID <= lastID {
			t.Fatalf("id %d not greater than previous %d", res.AppointmentID, lastID)
		}
		lastID = res.AppointmentID

		// Cancelling must not free the id for reuse.
		if _, err := svc.Cancel(ctx, res.AppointmentID, "bob", RolePatient); err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
	}
}

func TestReserve_ConcurrentSlotExclusivity(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-07-01")

	slots := 4
	callers := 20
	caregivers := []string{"alice", "bob", "carol", "dave"}
	for _, cg := range caregivers {
		if err := svc.UploadAvailability(ctx, cg, date); err != nil {
			t.Fatalf("upload availability: %v", err)
		}
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 100); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	var (
		success  atomic.Int32
		noSlot   atomic.Int32
		assigned sync.Map
		wg       sync.WaitGroup
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Reserve(ctx, date, "pfizer", "patient")
			switch {
			case err == nil:
				success.Add(1)
				if _, loaded := assigned.LoadOrStore(res.Caregiver, i); loaded {
					t.Errorf("caregiver %s assigned twice", res.Caregiver)
				}
			case errors.Is(err, ErrNoCaregiverAvailable):
				noSlot.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if int(success.Load()) != slots {
		t.Errorf("expected exactly %d successes, got %d", slots, success.Load())
	}
	if int(noSlot.Load()) != callers-slots {
		t.Errorf("expected %d NoCaregiverAvailable failures, got %d", callers-slots, noSlot.Load())
	}

	doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer")
	if doses != 100-slots {
		t.Errorf("expected %d doses left, got %d", 100-slots, doses)
	}
}

func TestReserve_ConcurrentNonNegativity(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-08-01")

	doses := 3
	callers := 15
	// Plenty of slots, scarce doses.
	for _, cg := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o"} {
		if err := svc.UploadAvailability(ctx, cg, date); err != nil {
			t.Fatalf("upload availability: %v", err)
		}
	}
	if _, err := svc.AddDoses(ctx, "moderna", doses); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	var success, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, date, "moderna", "patient")
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrInsufficientDoses):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if int(success.Load()) != doses {
		t.Errorf("expected exactly %d successes, got %d", doses, success.Load())
	}

	left, _ := repo.Stores().Inventory.Get(ctx, "moderna")
	if left != 0 {
		t.Errorf("expected 0 doses left, got %d", left)
	}
	if left < 0 {
		t.Fatalf("dose count went negative: %d", left)
	}
}

// failing ledger forces the last step of a reservation to fail so the
// rollback of the earlier steps can be observed.
type failingLedger struct {
	AppointmentLedger
}

var errLedgerDown = errors.New("ledger down")

func (failingLedger) Insert(ctx context.Context, a Appointment) (int64, error) {
	return 0, errLedgerDown
}

type faultyRepo struct {
	*MemoryRepository
}

func (r faultyRepo) InTx(ctx context.Context, fn func(Stores) error) error {
	return r.MemoryRepository.InTx(ctx, func(st Stores) error {
		st.Ledger = failingLedger{st.Ledger}
		return fn(st)
	})
}

func TestReserve_RollsBackOnLedgerFailure(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	healthy := NewService(repo, redisclient.NoopLocker{})
	if err := healthy.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := healthy.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	broken := NewService(faultyRepo{repo}, redisclient.NoopLocker{})
	_, err := broken.Reserve(ctx, date, "pfizer", "bob")
	if !errors.Is(err, errLedgerDown) {
		t.Fatalf("expected ledger failure, got: %v", err)
	}

	// The claimed slot and the consumed dose must both be rolled back.
	slots, _ := repo.Stores().Availability.ListByDate(ctx, date)
	if len(slots) != 1 || slots[0] != "alice" {
		t.Errorf("expected slot restored, got %v", slots)
	}
	doses, _ := repo.Stores().Inventory.Get(ctx, "pfizer")
	if doses != 5 {
		t.Errorf("expected doses untouched at 5, got %d", doses)
	}
	if _, err := repo.Stores().Ledger.Get(ctx, 1); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected empty ledger, got: %v", err)
	}
}

func TestUploadAvailability_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if err := svc.UploadAvailability(ctx, "alice", date); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got: %v", err)
	}
	// Same caregiver, another date is fine.
	if err := svc.UploadAvailability(ctx, "alice", mustDate(t, "2024-05-02")); err != nil {
		t.Fatalf("second date: %v", err)
	}
}

func TestSchedule_CrossesCaregiversWithStockedVaccines(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	for _, cg := range []string{"carol", "alice"} {
		if err := svc.UploadAvailability(ctx, cg, date); err != nil {
			t.Fatalf("upload availability: %v", err)
		}
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "moderna", 0); err != nil {
		t.Fatalf("add doses: %v", err)
	}

	entries, err := svc.Schedule(ctx, date)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// moderna has zero doses so only pfizer appears, caregivers ascending.
	want := []ScheduleEntry{
		{Caregiver: "alice", Vaccine: "pfizer", Doses: 5},
		{Caregiver: "carol", Vaccine: "pfizer", Doses: 5},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(entries), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], entries[i])
		}
	}
}

func TestAppointments_ListsCounterparty(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	date := mustDate(t, "2024-05-01")

	if err := svc.UploadAvailability(ctx, "alice", date); err != nil {
		t.Fatalf("upload availability: %v", err)
	}
	if _, err := svc.AddDoses(ctx, "pfizer", 5); err != nil {
		t.Fatalf("add doses: %v", err)
	}
	res, err := svc.Reserve(ctx, date, "pfizer", "bob")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	patientView, err := svc.Appointments(ctx, "bob", RolePatient)
	if err != nil {
		t.Fatalf("patient appointments: %v", err)
	}
	if len(patientView) != 1 || patientView[0].Counterparty != "alice" || patientView[0].ID != res.AppointmentID {
		t.Errorf("unexpected patient view: %+v", patientView)
	}

	caregiverView, err := svc.Appointments(ctx, "alice", RoleCaregiver)
	if err != nil {
		t.Fatalf("caregiver appointments: %v", err)
	}
	if len(caregiverView) != 1 || caregiverView[0].Counterparty != "bob" {
		t.Errorf("unexpected caregiver view: %+v", caregiverView)
	}

	other, err := svc.Appointments(ctx, "mallory", RolePatient)
	if err != nil {
		t.Fatalf("other appointments: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected empty list for stranger, got %+v", other)
	}
}
