package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
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
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/db"
	"github.com/hackgods/voice-reservations/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	HotSlots     int
	Date         civil.Date
	PostgresDSN  string
}

// DataPool holds the contended slots and the bookings created so far.
type DataPool struct {
	Times    []string
	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) GetRandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
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

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	faker   *gofakeit.Faker
	fakerMu sync.Mutex
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.NewLogger(baseCfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Stringer("date", cfg.Date),
		zap.Int("hot_slots", cfg.HotSlots),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		faker:  gofakeit.New(uint64(time.Now().UnixNano())),
		logger: logger,
	}

	ctx := context.Background()
	dataPool, err := sim.loadDataPool(ctx)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = dataPool

	sim.Run()
	sim.PrintReport()

	if cfg.PostgresDSN == "" {
		logger.Info("no POSTGRES_DSN, skipping ledger verification")
		return
	}
	if err := verifyLedger(ctx, cfg.PostgresDSN, cfg.Date); err != nil {
		logger.Fatal("ledger verification failed", zap.Error(err))
	}
	logger.Info("ledger verified: no slot is overbooked")
}

func loadConfig(baseCfg config.Config) SimConfig {
	date := baseCfg.Booking.Today(time.Now()).AddDays(1)
	if raw := os.Getenv("SIM_DATE"); raw != "" {
		if d, err := civil.ParseDate(raw); err == nil {
			date = d
		}
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
		Date:         date,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
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
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

// loadDataPool asks the API for the day's slots and keeps a few of them so
// workers contend for the same capacity.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	url := fmt.Sprintf("%s/availability?date=%s&party_size=1", s.config.APIBaseURL, s.config.Date)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load availability: status %d", resp.StatusCode)
	}

	var body struct {
		Slots []struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}
	if len(body.Slots) == 0 {
		return nil, fmt.Errorf("no open slots on %s", s.config.Date)
	}

	start := max(0, min(len(body.Slots)/2, len(body.Slots)-s.config.HotSlots))
	dp := &DataPool{}
	for _, slot := range body.Slots[start:min(start+s.config.HotSlots, len(body.Slots))] {
		dp.Times = append(dp.Times, slot.Time)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
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
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case rng.Intn(2) == 0:
				s.doReadByID(ctx, rng)
			default:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

func (s *Simulator) customer() (name, phone string) {
	s.fakerMu.Lock()
	defer s.fakerMu.Unlock()
	return s.faker.Name(), fmt.Sprintf("555%07d", s.faker.Number(0, 9_999_999))
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	name, phone := s.customer()
	body, _ := json.Marshal(map[string]any{
		"date":           s.config.Date.String(),
		"time":           s.pool.Times[rng.Intn(len(s.pool.Times))],
		"party_size":     rng.Intn(6) + 1,
		"customer_name":  name,
		"customer_phone": phone,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddBooking(created.ID)
			}
		case http.StatusConflict, http.StatusUnprocessableEntity:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bookings/%s/cancel", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		// already cancelled
		conflict = resp.StatusCode == http.StatusUnprocessableEntity
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}
	s.get(ctx, fmt.Sprintf("%s/bookings/%s", s.config.APIBaseURL, id), &s.metrics.ReadByID)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	s.get(ctx, fmt.Sprintf("%s/availability?date=%s&party_size=%d",
		s.config.APIBaseURL, s.config.Date, rng.Intn(6)+1), &s.metrics.Availability)
}

func (s *Simulator) get(ctx context.Context, url string, om *OperationMetrics) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	om.Record(latency, success, false)
}

// verifyLedger checks every slot of date against its active bookings.
func verifyLedger(ctx context.Context, dsn string, date civil.Date) error {
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	return checkSlots(ctx, pool, date)
}

func checkSlots(ctx context.Context, pool *pgxpool.Pool, date civil.Date) error {
	rows, err := pool.Query(ctx, `
		SELECT s.slot_time::text, s.total_capacity, s.booked_capacity,
		       COALESCE(SUM(b.party_size) FILTER (WHERE b.status <> 'cancelled'), 0)
		FROM time_slots s
		LEFT JOIN bookings b ON b.slot_date = s.slot_date AND b.slot_time = s.slot_time
		WHERE s.slot_date = $1
		GROUP BY s.slot_time, s.total_capacity, s.booked_capacity
		ORDER BY s.slot_time
	`, date.In(time.UTC))
	if err != nil {
		return fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var slotTime string
		var total, booked, active int
		if err := rows.Scan(&slotTime, &total, &booked, &active); err != nil {
			return err
		}
		if booked > total {
			problems = append(problems, fmt.Sprintf("%s overbooked: %d/%d", slotTime, booked, total))
		}
		if booked != active {
			problems = append(problems, fmt.Sprintf("%s ledger says %d, bookings sum to %d", slotTime, booked, active))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots on %s: %s\n\n", s.config.Date, strings.Join(s.pool.Times, ", "))

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

// Helper functions

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
