package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/db"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
	"github.com/hackgods/clinic-teleconsult-scheduling/pkg/logging"
)

// SimConfig drives a load run against a running api-server. Race rounds
// fire RaceFanout reservations at one slot at once and expect exactly one
// to win.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	RaceRatio    float64
	RaceFanout   int
	DoctorLimit  int
	PatientLimit int
	HorizonDays  int
	PostgresDSN  string
}

type DataPool struct {
	Doctors      []uuid.UUID
	Patients     []uuid.UUID
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	SlotQuery OperationMetrics
	Booking   OperationMetrics
	Cancel    OperationMetrics
	ReadByID  OperationMetrics
	Race      OperationMetrics

	raceRounds     int64
	doubleBookings int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

type slotView struct {
	Date  civil.Date     `json:"date"`
	Start schedule.Clock `json:"start_time"`
}

type slotsView struct {
	Days []struct {
		Slots []slotView `json:"slots"`
	} `json:"days"`
}

func main() {
	logger := logging.New("simulate", "dev", "info")
	logger.Info().Msg("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Float64("race", cfg.RaceRatio).
		Msg("config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("doctors", len(dataPool.Doctors)).Int("patients", len(dataPool.Patients)).Msg("loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.doubleBookings) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		RaceRatio:    getFloat("SIM_RACE_RATIO", 0.1),
		RaceFanout:   getInt("SIM_RACE_FANOUT", 8),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 14),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio + cfg.RaceRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
		cfg.RaceRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.RaceFanout < 2 {
		return fmt.Errorf("SIM_RACE_FANOUT must be >= 2")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	doctors, err := loadIDs(ctx, pool, `
		SELECT DISTINCT d.id FROM doctors d
		JOIN weekly_schedules w ON w.doctor_id = d.id AND w.active
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors with an active schedule loaded")
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	return &DataPool{Doctors: doctors, Patients: patients}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ReadRatio:
			s.doReadByID(ctx, rng)
		default:
			s.doRace(ctx, rng)
		}
	}
}

// pickSlot queries a random doctor's open slots over the horizon and picks
// one at random.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand) (uuid.UUID, slotView, bool) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	from := civil.DateOf(time.Now()).AddDays(1)
	to := from.AddDays(s.config.HorizonDays - 1)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/doctors/%s/slots?from=%s&to=%s", s.config.APIBaseURL, doctorID, from, to), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.SlotQuery.Record(latency, false, false)
		return uuid.Nil, slotView{}, false
	}
	defer resp.Body.Close()

	var view slotsView
	ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&view) == nil
	s.metrics.SlotQuery.Record(latency, ok, false)
	if !ok {
		return uuid.Nil, slotView{}, false
	}

	var open []slotView
	for _, d := range view.Days {
		open = append(open, d.Slots...)
	}
	if len(open) == 0 {
		return uuid.Nil, slotView{}, false
	}
	return doctorID, open[rng.Intn(len(open))], true
}

// reserve posts one reservation and reports the HTTP status, zero on
// transport failure.
func (s *Simulator) reserve(ctx context.Context, doctorID, patientID uuid.UUID, slot slotView) (int, time.Duration) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id":  doctorID,
		"patient_id": patientID,
		"date":       slot.Date,
		"start_time": slot.Start,
		"type":       "video",
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	}
	return resp.StatusCode, latency
}

func (s *Simulator) randomPatient(rng *rand.Rand) uuid.UUID {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID, slot, ok := s.pickSlot(ctx, rng)
	if !ok {
		return
	}
	status, latency := s.reserve(ctx, doctorID, s.randomPatient(rng), slot)
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

// doRace sends RaceFanout reservations for the same slot at once. More than
// one success is a double booking.
func (s *Simulator) doRace(ctx context.Context, rng *rand.Rand) {
	doctorID, slot, ok := s.pickSlot(ctx, rng)
	if !ok {
		return
	}

	patients := make([]uuid.UUID, s.config.RaceFanout)
	for i := range patients {
		patients[i] = s.randomPatient(rng)
	}

	var (
		wg    sync.WaitGroup
		wins  int64
		ready = make(chan struct{})
	)
	for _, patientID := range patients {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-ready
			status, latency := s.reserve(ctx, doctorID, patientID, slot)
			if status == http.StatusCreated {
				atomic.AddInt64(&wins, 1)
			}
			s.metrics.Race.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
		}(patientID)
	}
	close(ready)
	wg.Wait()

	atomic.AddInt64(&s.metrics.raceRounds, 1)
	if wins > 1 {
		atomic.AddInt64(&s.metrics.doubleBookings, 1)
		s.logger.Error().
			Str("doctor_id", doctorID.String()).
			Str("date", slot.Date.String()).
			Str("start_time", slot.Start.String()).
			Int64("wins", wins).
			Msg("double booking detected")
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, apptID), strings.NewReader(`{"note":"load test"}`))
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Slot query", &s.metrics.SlotQuery)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Race reservations", &s.metrics.Race)

	fmt.Printf("Race rounds: %d, double bookings: %d\n",
		atomic.LoadInt64(&s.metrics.raceRounds), atomic.LoadInt64(&s.metrics.doubleBookings))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
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
