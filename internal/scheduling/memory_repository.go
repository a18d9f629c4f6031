package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps all three stores in process memory behind one
// mutex. InTx stages every mutation on a deep copy of the state and only
// swaps the copy in when the closure succeeds, so a failed orchestration
// leaves no partial effects. Used by tests and by the API's demo mode when
// no Postgres DSN is configured.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	slots    map[string]map[string]bool // date key -> set of caregivers
	vaccines map[string]int
	appts    map[int64]Appointment
	nextID   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			slots:    make(map[string]map[string]bool),
			vaccines: make(map[string]int),
			appts:    make(map[int64]Appointment),
			nextID:   1,
		},
	}
}

func (r *MemoryRepository) Stores() Stores {
	return memStoresOn(&lockedState{repo: r})
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(Stores) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.state.clone()
	if err := fn(memStoresOn(&plainState{st: staged})); err != nil {
		return err
	}
	r.state = staged
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		slots:    make(map[string]map[string]bool, len(s.slots)),
		vaccines: make(map[string]int, len(s.vaccines)),
		appts:    make(map[int64]Appointment, len(s.appts)),
		nextID:   s.nextID,
	}
	for date, set := range s.slots {
		cs := make(map[string]bool, len(set))
		for cg := range set {
			cs[cg] = true
		}
		c.slots[date] = cs
	}
	for name, doses := range s.vaccines {
		c.vaccines[name] = doses
	}
	for id, a := range s.appts {
		c.appts[id] = a
	}
	return c
}

// stateAccess abstracts "state plus whatever locking it needs" so the same
// store code runs inside and outside a transaction.
type stateAccess interface {
	with(fn func(*memState) error) error
}

// plainState is used inside InTx, where the repository mutex is already held.
type plainState struct {
	st *memState
}

func (p *plainState) with(fn func(*memState) error) error {
	return fn(p.st)
}

// lockedState guards each auto-commit operation with the repository mutex.
type lockedState struct {
	repo *MemoryRepository
}

func (l *lockedState) with(fn func(*memState) error) error {
	l.repo.mu.Lock()
	defer l.repo.mu.Unlock()
	return fn(l.repo.state)
}

func memStoresOn(sa stateAccess) Stores {
	return Stores{
		Availability: &memAvailability{sa: sa},
		Inventory:    &memInventory{sa: sa},
		Ledger:       &memLedger{sa: sa},
	}
}

// Availability store

type memAvailability struct {
	sa stateAccess
}

func (s *memAvailability) Offer(ctx context.Context, date time.Time, caregiver string) error {
	key := DateKey(date)
	return s.sa.with(func(st *memState) error {
		if st.slots[key][caregiver] {
			return ErrDuplicateSlot
		}
		if st.slots[key] == nil {
			st.slots[key] = make(map[string]bool)
		}
		st.slots[key][caregiver] = true
		return nil
	})
}

func (s *memAvailability) ClaimAny(ctx context.Context, date time.Time) (string, error) {
	key := DateKey(date)
	var claimed string
	err := s.sa.with(func(st *memState) error {
		set := st.slots[key]
		if len(set) == 0 {
			return ErrNoSlotAvailable
		}
		for cg := range set {
			if claimed == "" || cg < claimed {
				claimed = cg
			}
		}
		delete(set, claimed)
		if len(set) == 0 {
			delete(st.slots, key)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return claimed, nil
}

func (s *memAvailability) Restore(ctx context.Context, date time.Time, caregiver string) error {
	key := DateKey(date)
	return s.sa.with(func(st *memState) error {
		if st.slots[key] == nil {
			st.slots[key] = make(map[string]bool)
		}
		st.slots[key][caregiver] = true
		return nil
	})
}

func (s *memAvailability) ListByDate(ctx context.Context, date time.Time) ([]string, error) {
	key := DateKey(date)
	var caregivers []string
	err := s.sa.with(func(st *memState) error {
		for cg := range st.slots[key] {
			caregivers = append(caregivers, cg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(caregivers)
	return caregivers, nil
}

// Inventory store

type memInventory struct {
	sa stateAccess
}

func (s *memInventory) Decrement(ctx context.Context, vaccine string, n int) (int, error) {
	var doses int
	err := s.sa.with(func(st *memState) error {
		current, ok := st.vaccines[vaccine]
		if !ok || current < n {
			return ErrInsufficientDoses
		}
		st.vaccines[vaccine] = current - n
		doses = current - n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return doses, nil
}

func (s *memInventory) Increment(ctx context.Context, vaccine string, n int) (int, error) {
	var doses int
	err := s.sa.with(func(st *memState) error {
		st.vaccines[vaccine] += n
		doses = st.vaccines[vaccine]
		return nil
	})
	if err != nil {
		return 0, err
	}
	return doses, nil
}

func (s *memInventory) Get(ctx context.Context, vaccine string) (int, error) {
	var doses int
	err := s.sa.with(func(st *memState) error {
		current, ok := st.vaccines[vaccine]
		if !ok {
			return ErrVaccineNotFound
		}
		doses = current
		return nil
	})
	if err != nil {
		return 0, err
	}
	return doses, nil
}

func (s *memInventory) List(ctx context.Context) ([]Vaccine, error) {
	var vaccines []Vaccine
	err := s.sa.with(func(st *memState) error {
		for name, doses := range st.vaccines {
			vaccines = append(vaccines, Vaccine{Name: name, Doses: doses})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(vaccines, func(i, j int) bool { return vaccines[i].Name < vaccines[j].Name })
	return vaccines, nil
}

// Appointment ledger

type memLedger struct {
	sa stateAccess
}

func (s *memLedger) Insert(ctx context.Context, a Appointment) (int64, error) {
	var id int64
	err := s.sa.with(func(st *memState) error {
		a.ID = st.nextID
		a.CreatedAt = time.Now()
		st.nextID++
		st.appts[a.ID] = a
		id = a.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *memLedger) Get(ctx context.Context, id int64) (*Appointment, error) {
	var found *Appointment
	err := s.sa.with(func(st *memState) error {
		a, ok := st.appts[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		found = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *memLedger) Delete(ctx context.Context, id int64) error {
	return s.sa.with(func(st *memState) error {
		if _, ok := st.appts[id]; !ok {
			return ErrAppointmentNotFound
		}
		delete(st.appts, id)
		return nil
	})
}

func (s *memLedger) ListByPatient(ctx context.Context, patient string) ([]Appointment, error) {
	return s.list(func(a Appointment) bool { return a.Patient == patient })
}

func (s *memLedger) ListByCaregiver(ctx context.Context, caregiver string) ([]Appointment, error) {
	return s.list(func(a Appointment) bool { return a.Caregiver == caregiver })
}

func (s *memLedger) list(match func(Appointment) bool) ([]Appointment, error) {
	var result []Appointment
	err := s.sa.with(func(st *memState) error {
		for _, a := range st.appts {
			if match(a) {
				result = append(result, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
