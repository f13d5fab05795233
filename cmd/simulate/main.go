package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/config"
	"github.com/hackgods/clinic-booking-gateway/internal/db"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
)

type SimConfig struct {
	GatewayURL  string
	Duration    time.Duration
	Workers     int
	Password    string
	DoctorIDs   []string
	DoctorLimit int
	PostgresDSN string
	Location    *time.Location
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
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	SignIn OperationMetrics
	Doctor OperationMetrics
	Slots  OperationMetrics
	Slot   OperationMetrics
	Submit OperationMetrics
}

type Simulator struct {
	config  SimConfig
	metrics Metrics
	logger  *zap.Logger
}

// patient is one virtual browser: its own cookie jar, so its own session.
type patient struct {
	client *http.Client
	email  string
	info   appointment.PatientInfo
}

func main() {
	cfg, baseCfg := loadConfig()

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.DoctorIDs) == 0 && cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ids, err := loadDoctors(ctx, cfg)
		cancel()
		if err != nil {
			logger.Fatal("load doctors", zap.Error(err))
		}
		cfg.DoctorIDs = ids
	}
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("gateway", cfg.GatewayURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("doctors", len(cfg.DoctorIDs)),
	)

	sim := &Simulator{config: cfg, logger: logger}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		GatewayURL:  getEnv("SIM_GATEWAY_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		Password:    getEnv("SIM_PASSWORD", "simulate-123"),
		DoctorLimit: getInt("SIM_DOCTOR_LIMIT", 50),
		PostgresDSN: baseCfg.PostgresDSN,
		Location:    baseCfg.Location(),
	}
	if v := os.Getenv("SIM_DOCTOR_IDS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.DoctorIDs = append(cfg.DoctorIDs, id)
			}
		}
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if len(cfg.DoctorIDs) == 0 {
		return fmt.Errorf("no doctors: set SIM_DOCTOR_IDS or POSTGRES_DSN")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDoctors(ctx context.Context, cfg SimConfig) ([]string, error) {
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT id::text FROM doctors WHERE is_active LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
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

	p, err := s.signIn(ctx)
	if err != nil {
		s.logger.Warn("worker could not sign in", zap.Int("worker", workerID), zap.Error(err))
		return
	}

	for ctx.Err() == nil {
		s.book(ctx, rng, p)
	}
}

func newPatient() (*patient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	person := gofakeit.Person()
	info := appointment.PatientInfo{
		Prefix:      "Khun",
		FirstName:   person.FirstName,
		LastName:    person.LastName,
		Gender:      person.Gender,
		DateOfBirth: gofakeit.DateRange(time.Now().AddDate(-70, 0, 0), time.Now().AddDate(-18, 0, 0)).Format("2006-01-02"),
		Nationality: "Thai",
		Phone:       gofakeit.Numerify("08########"),
		Email:       strings.ToLower(person.FirstName) + "." + gofakeit.Numerify("#####") + "@sim.example.com",
		Consent:     true,
	}
	return &patient{
		client: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		email: info.Email,
		info:  info,
	}, nil
}

// signIn registers a fresh patient account and logs it in.
func (s *Simulator) signIn(ctx context.Context) (*patient, error) {
	p, err := newPatient()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	status, err := s.post(ctx, p, "/auth/register", map[string]string{
		"email":           p.email,
		"password":        s.config.Password,
		"confirmPassword": s.config.Password,
		"firstName":       p.info.FirstName,
		"lastName":        p.info.LastName,
	})
	if err == nil && status != http.StatusCreated {
		err = fmt.Errorf("register: status %d", status)
	}
	if err == nil {
		status, err = s.post(ctx, p, "/auth/login", map[string]string{
			"email":    p.email,
			"password": s.config.Password,
		})
		if err == nil && status != http.StatusOK {
			err = fmt.Errorf("login: status %d", status)
		}
	}
	s.metrics.SignIn.Record(time.Since(start), err == nil, false)
	return p, err
}

// book walks one patient through the wizard once: doctor, slot lookup, slot,
// details, submit. Any step that fails ends the attempt.
func (s *Simulator) book(ctx context.Context, rng *rand.Rand, p *patient) {
	doctorID := s.config.DoctorIDs[rng.Intn(len(s.config.DoctorIDs))]

	if !s.step(ctx, &s.metrics.Doctor, p, "/booking/doctor", map[string]string{
		"doctorId":    doctorID,
		"bookingType": appointment.BookingTypeManual,
	}, http.StatusSeeOther) {
		return
	}

	date, slot, ok := s.findSlot(ctx, rng, p, doctorID)
	if !ok {
		return
	}

	if !s.step(ctx, &s.metrics.Slot, p, "/booking/slot", map[string]string{
		"selectedDate": date,
		"selectedTime": slot,
	}, http.StatusSeeOther) {
		return
	}

	s.step(ctx, &s.metrics.Submit, p, "/booking/submit", map[string]any{
		"symptoms":    "Simulated visit " + gofakeit.Numerify("####"),
		"patientInfo": p.info,
	}, http.StatusCreated)
}

// findSlot looks up to a week ahead for a date with a free slot and picks
// one of them at random.
func (s *Simulator) findSlot(ctx context.Context, rng *rand.Rand, p *patient, doctorID string) (string, string, bool) {
	day := time.Now().In(s.config.Location)
	for i := 1; i <= 7; i++ {
		date := day.AddDate(0, 0, i).Format("2006-01-02")

		start := time.Now()
		var view slots.View
		status, err := s.get(ctx, p, "/booking/slots?"+url.Values{
			"doctor_id": {doctorID},
			"date":      {date},
		}.Encode(), &view)
		ok := err == nil && status == http.StatusOK
		s.metrics.Slots.Record(time.Since(start), ok, status == http.StatusConflict)
		if !ok {
			return "", "", false
		}
		if len(view.Slots) > 0 {
			return date, view.Slots[rng.Intn(len(view.Slots))].Time, true
		}
	}
	return "", "", false
}

func (s *Simulator) step(ctx context.Context, om *OperationMetrics, p *patient, path string, body any, want int) bool {
	start := time.Now()
	status, err := s.post(ctx, p, path, body)
	ok := err == nil && status == want
	om.Record(time.Since(start), ok, status == http.StatusConflict)
	return ok
}

func (s *Simulator) post(ctx context.Context, p *patient, path string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) get(ctx context.Context, p *patient, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.GatewayURL+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Sign in", &s.metrics.SignIn)
	printOperationReport("Select doctor", &s.metrics.Doctor)
	printOperationReport("Free slots", &s.metrics.Slots)
	printOperationReport("Select slot", &s.metrics.Slot)
	printOperationReport("Submit", &s.metrics.Submit)
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
