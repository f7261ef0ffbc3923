package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/db"
	"github.com/hackgods/slot-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	PatientCount int
	SlotLimit    int
	Weights      map[string]float64
	PostgresDSN  string
	Location     *time.Location
}

type bookedSlot struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Start    time.Time
}

// DataPool holds the ids workers pick from. Slots are read-only after
// loading; appointments grow as bookings succeed.
type DataPool struct {
	Patients []uuid.UUID
	Slots    []bookedSlot

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) RandomSlot(rng *rand.Rand) bookedSlot {
	return dp.Slots[rng.Intn(len(dp.Slots))]
}

func (dp *DataPool) RandomPatient(rng *rand.Rand) uuid.UUID {
	return dp.Patients[rng.Intn(len(dp.Patients))]
}

// OperationStats counts outcomes by HTTP class. Conflict is a 409; rejected
// is any other 4xx, which is expected when a worker acts on an appointment
// another worker has already closed.
type OperationStats struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (st *OperationStats) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&st.Total, 1)
	switch {
	case err != nil || status >= 500:
		atomic.AddInt64(&st.Error, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&st.Conflict, 1)
	case status >= 400:
		atomic.AddInt64(&st.Rejected, 1)
	default:
		atomic.AddInt64(&st.Success, 1)
	}

	st.mu.Lock()
	st.latencies = append(st.latencies, latency)
	st.mu.Unlock()
}

func (st *OperationStats) Percentiles() (avg, p50, p95, p99, max time.Duration) {
	st.mu.Lock()
	latencies := make([]time.Duration, len(st.latencies))
	copy(latencies, st.latencies)
	st.mu.Unlock()

	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), at(50), at(95), at(99), latencies[len(latencies)-1]
}

type operation struct {
	name string
	run  func(ctx context.Context, rng *rand.Rand) (int, error)
}

type Simulator struct {
	config SimConfig
	pool   *DataPool
	client *http.Client
	log    zerolog.Logger

	ops   []operation
	cum   []float64
	stats map[string]*OperationStats
}

func main() {
	log := logging.New("simulate", os.Getenv("LOG_LEVEL"), "console")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Interface("weights", cfg.Weights).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := NewSimulator(cfg, dataPool, log)
	sim.Run()
	sim.PrintReport(os.Stdout)
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		PatientCount: getInt("SIM_PATIENTS", 500),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  baseCfg.PostgresDSN,
		Location:     baseCfg.Location,
		Weights: map[string]float64{
			"book":              getFloat("SIM_BOOK_WEIGHT", 0.35),
			"confirm":           getFloat("SIM_CONFIRM_WEIGHT", 0.15),
			"complete":          getFloat("SIM_COMPLETE_WEIGHT", 0.05),
			"reschedule":        getFloat("SIM_RESCHEDULE_WEIGHT", 0.05),
			"cancel":            getFloat("SIM_CANCEL_WEIGHT", 0.05),
			"get_appointment":   getFloat("SIM_GET_WEIGHT", 0.15),
			"list_by_patient":   getFloat("SIM_LIST_PATIENT_WEIGHT", 0.15),
			"list_doctor_slots": getFloat("SIM_LIST_SLOTS_WEIGHT", 0.10),
		},
	}

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.PatientCount <= 0 {
		return cfg, fmt.Errorf("SIM_PATIENTS must be > 0")
	}

	var total float64
	for _, w := range cfg.Weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return cfg, fmt.Errorf("at least one SIM_*_WEIGHT must be > 0")
	}
	return cfg, nil
}

// loadDataPool reads upcoming free slots. Patients are random ids; the
// directory stub resolves any of them.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	faker := gofakeit.New(0)
	for i := 0; i < cfg.PatientCount; i++ {
		id, err := uuid.Parse(faker.UUID())
		if err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	rows, err := pool.Query(ctx, `
		SELECT id, doctor_id, start_time FROM slots
		WHERE status = 'free' AND start_time > now()
		ORDER BY random()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s bookedSlot
		if err := rows.Scan(&s.ID, &s.DoctorID, &s.Start); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no free upcoming slots; run seed first")
	}
	return dataPool, nil
}

func NewSimulator(cfg SimConfig, pool *DataPool, log zerolog.Logger) *Simulator {
	s := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		stats:  make(map[string]*OperationStats),
	}

	all := []operation{
		{"book", s.doBook},
		{"confirm", s.appointmentAction("confirm")},
		{"complete", s.appointmentAction("complete")},
		{"reschedule", s.doReschedule},
		{"cancel", s.doCancel},
		{"get_appointment", s.doGetAppointment},
		{"list_by_patient", s.doListByPatient},
		{"list_doctor_slots", s.doListDoctorSlots},
	}

	total := 0.0
	for _, op := range all {
		w := cfg.Weights[op.name]
		if w <= 0 {
			continue
		}
		total += w
		s.ops = append(s.ops, op)
		s.cum = append(s.cum, total)
		s.stats[op.name] = &OperationStats{}
	}
	for i := range s.cum {
		s.cum[i] /= total
	}
	return s
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		op := s.pick(rng.Float64())

		start := time.Now()
		status, err := op.run(ctx, rng)
		if status == 0 && err == nil {
			// Nothing to act on yet.
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.stats[op.name].Record(time.Since(start), status, err)
	}
}

func (s *Simulator) pick(r float64) operation {
	for i, c := range s.cum {
		if r < c {
			return s.ops[i]
		}
	}
	return s.ops[len(s.ops)-1]
}

// call performs one request and decodes a JSON response into out when the
// status is 2xx.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) (int, error) {
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, "/appointments", map[string]string{
		"slot_id":    s.pool.RandomSlot(rng).ID.String(),
		"patient_id": s.pool.RandomPatient(rng).String(),
	}, &created)
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	return status, err
}

func (s *Simulator) appointmentAction(action string) func(ctx context.Context, rng *rand.Rand) (int, error) {
	return func(ctx context.Context, rng *rand.Rand) (int, error) {
		id, ok := s.pool.RandomAppointment(rng)
		if !ok {
			return 0, nil
		}
		return s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", id, action), nil, nil)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) (int, error) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return 0, nil
	}
	return s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", id),
		map[string]string{"reason": "simulated cancellation"}, nil)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) (int, error) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return 0, nil
	}
	return s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/reschedule", id),
		map[string]string{"slot_id": s.pool.RandomSlot(rng).ID.String()}, nil)
}

func (s *Simulator) doGetAppointment(ctx context.Context, rng *rand.Rand) (int, error) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return 0, nil
	}
	return s.call(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) (int, error) {
	path := fmt.Sprintf("/appointments?patient_id=%s&limit=20", s.pool.RandomPatient(rng))
	return s.call(ctx, http.MethodGet, path, nil, nil)
}

func (s *Simulator) doListDoctorSlots(ctx context.Context, rng *rand.Rand) (int, error) {
	slot := s.pool.RandomSlot(rng)
	path := fmt.Sprintf("/slots?doctor_id=%s&date=%s&status=free",
		slot.DoctorID, slot.Start.In(s.config.Location).Format(time.DateOnly))
	return s.call(ctx, http.MethodGet, path, nil, nil)
}

func (s *Simulator) PrintReport(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(w, "\n"+line)
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Duration: %s\n", s.config.Duration)
	fmt.Fprintf(w, "Workers: %d\n\n", s.config.Workers)

	for _, op := range s.ops {
		printOperationReport(w, op.name, s.stats[op.name])
	}
}

func printOperationReport(w io.Writer, name string, st *OperationStats) {
	total := atomic.LoadInt64(&st.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", st.Success, pct(st.Success))
	if st.Conflict > 0 {
		fmt.Fprintf(w, "  Conflicts: %d (%.1f%%)\n", st.Conflict, pct(st.Conflict))
	}
	if st.Rejected > 0 {
		fmt.Fprintf(w, "  Rejected: %d (%.1f%%)\n", st.Rejected, pct(st.Rejected))
	}
	if st.Error > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", st.Error, pct(st.Error))
	}

	avg, p50, p95, p99, max := st.Percentiles()
	fmt.Fprintf(w, "  Latency: avg=%s p50=%s p95=%s p99=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond),
		p99.Round(time.Millisecond), max.Round(time.Millisecond))
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
