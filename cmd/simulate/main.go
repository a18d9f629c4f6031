package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// The simulator drives concurrent reserve/cancel/read traffic at a running
// api-server and reports success, conflict, and latency numbers. It creates
// its own accounts through the public auth endpoints, so it works against
// both the Postgres and the in-memory deployment.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Patients     int
	Caregivers   int
	Days         int
	ReserveRatio float64
	CancelRatio  float64
	ReadRatio    float64
}

const simPassword = "Sim#2024run"

var simVaccines = []string{"pfizer", "moderna", "astrazeneca"}

type session struct {
	Username string
	Token    string
}

type DataPool struct {
	Patients   []session
	Caregivers []session
	Dates      []string

	mu           sync.RWMutex
	appointments []int64 // ids created during this run, cancellable
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments = append(dp.appointments[:idx], dp.appointments[idx+1:]...)
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Reserve  OperationMetrics
	Cancel   OperationMetrics
	Schedule OperationMetrics
	List     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d reserve=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.ReserveRatio, cfg.CancelRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := sim.Prepare(); err != nil {
		log.Fatalf("prepare data pool: %v", err)
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Patients:     getInt("SIM_PATIENTS", 50),
		Caregivers:   getInt("SIM_CAREGIVERS", 10),
		Days:         getInt("SIM_DAYS", 14),
		ReserveRatio: getFloat("SIM_RESERVE_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.ReserveRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ReserveRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Caregivers <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_CAREGIVERS must be > 0")
	}
	return nil
}

// Prepare registers fresh accounts, uploads availability for every caregiver
// over the simulated window, and stocks the vaccines.
func (s *Simulator) Prepare() error {
	runID := time.Now().UnixNano()
	pool := &DataPool{}

	today := time.Now()
	for day := 0; day < s.config.Days; day++ {
		pool.Dates = append(pool.Dates, today.AddDate(0, 0, day).Format("2006-01-02"))
	}

	for i := 0; i < s.config.Caregivers; i++ {
		sess, err := s.register(fmt.Sprintf("sim-cg-%d-%d", runID, i), "caregiver")
		if err != nil {
			return fmt.Errorf("register caregiver: %w", err)
		}
		pool.Caregivers = append(pool.Caregivers, sess)

		for _, date := range pool.Dates {
			if err := s.post(sess.Token, "/availability", map[string]string{"date": date}, nil); err != nil {
				return fmt.Errorf("upload availability: %w", err)
			}
		}
	}

	stocker := pool.Caregivers[0]
	for _, vaccine := range simVaccines {
		path := fmt.Sprintf("/vaccines/%s/doses", vaccine)
		if err := s.post(stocker.Token, path, map[string]int{"amount": 1000}, nil); err != nil {
			return fmt.Errorf("stock %s: %w", vaccine, err)
		}
	}

	for i := 0; i < s.config.Patients; i++ {
		sess, err := s.register(fmt.Sprintf("sim-pt-%d-%d", runID, i), "patient")
		if err != nil {
			return fmt.Errorf("register patient: %w", err)
		}
		pool.Patients = append(pool.Patients, sess)
	}

	s.pool = pool
	log.Printf("prepared: %d caregivers, %d patients, %d dates", len(pool.Caregivers), len(pool.Patients), len(pool.Dates))
	return nil
}

func (s *Simulator) register(username, role string) (session, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": simPassword,
		"role":     role,
	})

	resp, err := s.client.Post(s.config.APIBaseURL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return session{}, fmt.Errorf("register %s: status %d: %s", username, resp.StatusCode, raw)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session{}, err
	}
	return session{Username: username, Token: out.Token}, nil
}

func (s *Simulator) post(token, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, raw)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.ReserveRatio:
				s.doReserve(ctx, rng)
			case r < s.config.ReserveRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doSchedule(ctx, rng)
				} else {
					s.doList(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	vaccine := simVaccines[rng.Intn(len(simVaccines))]

	body, _ := json.Marshal(map[string]string{"date": date, "vaccine": vaccine})
	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/reservations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var out struct {
				AppointmentID int64 `json:"appointment_id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &out) == nil && out.AppointmentID > 0 {
				s.pool.AddAppointment(out.AppointmentID)
			}
		case http.StatusConflict, http.StatusServiceUnavailable:
			conflict = true
		}
	}

	s.metrics.Reserve.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	// Any patient token will do for the attempt; forbidden outcomes count
	// as conflicts since another patient owns the appointment.
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	req, _ := http.NewRequestWithContext(ctx, "DELETE",
		fmt.Sprintf("%s/appointments/%d", s.config.APIBaseURL, id), nil)
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable:
			conflict = true
			// Put it back so its owner may try later.
			s.pool.AddAppointment(id)
		}
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/schedule?date=%s", s.config.APIBaseURL, date), nil)
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Schedule.Record(latency, success, false)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	req, _ := http.NewRequestWithContext(ctx, "GET", s.config.APIBaseURL+"/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.List.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println("=== simulation report ===")
	printOp("reserve", &s.metrics.Reserve)
	printOp("cancel", &s.metrics.Cancel)
	printOp("schedule", &s.metrics.Schedule)
	printOp("list", &s.metrics.List)
}

func printOp(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		fmt.Printf("%-10s no operations\n", name)
		return
	}

	avg, min, max, p50, p95 := om.Stats()
	fmt.Printf("%-10s total=%d success=%d conflict=%d error=%d\n",
		name, total,
		atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict),
		atomic.LoadInt64(&om.Error),
	)
	fmt.Printf("%-10s avg=%s min=%s max=%s p50=%s p95=%s\n", "", avg, min, max, p50, p95)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
