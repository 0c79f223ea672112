package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	ReadRatio    float64
	PatientLimit int
	HotSlots     int // bookings aim at this many slots per doctor to force contention
	Date         time.Time
}

// bookable is one (doctor, appointment type) pair with its candidate slots on
// the simulated day.
type bookable struct {
	DoctorID     uuid.UUID
	DoctorUserID uuid.UUID
	TypeID       uuid.UUID
	Slots        []scheduling.Interval
}

type DataPool struct {
	Patients    []uuid.UUID
	Bookables   []bookable
	tokens      map[uuid.UUID]string
	doctorToken map[uuid.UUID]string // by doctor id

	mu           sync.RWMutex
	appointments []createdAppointment
}

type createdAppointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

func (dp *DataPool) AddAppointment(a createdAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (createdAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return createdAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.New("dev", "simulate")
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log = logging.New(baseCfg.Env, "simulate")
	if err := baseCfg.RequireJWTSecret(); err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("read", cfg.ReadRatio).
		Str("date", cfg.Date.Format(time.DateOnly)).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.Connect(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	defaultHours, err := scheduling.ParseWorkingHours(baseCfg.DefaultDayStart, baseCfg.DefaultDayEnd)
	if err != nil {
		log.Fatal().Err(err).Msg("default working hours")
	}

	dataPool, err := loadDataPool(ctx, pgPool, cfg, defaultHours, baseCfg.SlotGranularity, []byte(baseCfg.JWTSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("bookables", len(dataPool.Bookables)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool, cfg.Date)
	if err != nil {
		log.Fatal().Err(err).Msg("overlap check")
	}
	if overlaps > 0 {
		log.Error().Int("pairs", overlaps).Msg("overlapping appointments found")
		os.Exit(1)
	}
	log.Info().Msg("no overlapping appointments")
}

func loadConfig(base config.Config) (SimConfig, error) {
	date := time.Now().In(base.Location).AddDate(0, 0, 1)
	if raw := os.Getenv("SIM_DATE"); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, base.Location)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_DATE: %w", err)
		}
		date = d
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 8),
		Date:         scheduling.StartOfDay(date),
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, defaultHours scheduling.WorkingHours, granularity time.Duration, secret []byte) (*DataPool, error) {
	dp := &DataPool{
		tokens:      make(map[uuid.UUID]string),
		doctorToken: make(map[uuid.UUID]string),
	}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'PATIENT' LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT d.id, d.user_id, d.start_time, d.end_time, t.id, t.duration_minutes
		FROM doctors d
		JOIN appointment_types t ON t.doctor_id = d.id
		WHERE d.available
	`)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b          bookable
			start, end *string
			minutes    int
		)
		if err := rows.Scan(&b.DoctorID, &b.DoctorUserID, &start, &end, &b.TypeID, &minutes); err != nil {
			return nil, err
		}

		hours := defaultHours
		if start != nil && end != nil {
			if h, err := scheduling.ParseWorkingHours(*start, *end); err == nil {
				hours = h
			}
		}

		for slot := range scheduling.GenerateSlots(cfg.Date, hours, time.Duration(minutes)*time.Minute, granularity) {
			b.Slots = append(b.Slots, slot)
			if len(b.Slots) == cfg.HotSlots {
				break
			}
		}
		if len(b.Slots) > 0 {
			dp.Bookables = append(dp.Bookables, b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run clinicctl seed first")
	}
	if len(dp.Bookables) == 0 {
		return nil, fmt.Errorf("no bookable doctors loaded")
	}

	for _, id := range dp.Patients {
		tok, err := api.SignToken(secret, id, appointment.RolePatient, cfg.Duration+time.Hour)
		if err != nil {
			return nil, err
		}
		dp.tokens[id] = tok
	}
	for _, b := range dp.Bookables {
		if _, ok := dp.doctorToken[b.DoctorID]; ok {
			continue
		}
		tok, err := api.SignToken(secret, b.DoctorUserID, appointment.RoleDoctor, cfg.Duration+time.Hour)
		if err != nil {
			return nil, err
		}
		dp.doctorToken[b.DoctorID] = tok
	}

	return dp, nil
}

// countOverlaps returns the number of overlapping pairs of non-cancelled
// appointments on date, per doctor. Legacy rows count as 30 minutes.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, date time.Time) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		WITH a AS (
			SELECT id, doctor_id, date_time AS s,
			       COALESCE(end_time, date_time + interval '30 minutes') AS e
			FROM appointments
			WHERE status <> 'CANCELLED' AND date_time >= $1 AND date_time < $2
		)
		SELECT count(*)
		FROM a x
		JOIN a y ON x.doctor_id = y.doctor_id AND x.id < y.id
		WHERE x.s < y.e AND y.s < x.e
	`, date, date.AddDate(0, 0, 1)).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

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

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doAvailability(ctx, rng)
				case 1:
					s.doSlots(ctx, rng)
				case 2:
					s.doListMine(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	b := s.pool.Bookables[rng.Intn(len(s.pool.Bookables))]
	slot := b.Slots[rng.Intn(len(b.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPost, "/api/appointments", s.pool.tokens[patientID], api.CreateAppointmentRequest{
		DoctorID:          b.DoctorID.String(),
		AppointmentTypeID: b.TypeID.String(),
		DateTime:          slot.Start.Format(time.RFC3339),
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created api.AppointmentResponse
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(createdAppointment{ID: created.ID, DoctorID: b.DoctorID, PatientID: patientID})
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.send(ctx, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/status",
		s.pool.doctorToken[appt.DoctorID], api.UpdateStatusRequest{Status: string(appointment.StatusConfirmed)})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Confirm.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	b := s.pool.Bookables[rng.Intn(len(s.pool.Bookables))]
	path := fmt.Sprintf("/api/doctors/availability?doctorId=%s&date=%s", b.DoctorID, s.config.Date.Format(time.DateOnly))
	s.timedGet(ctx, path, "", &s.metrics.Availability)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	b := s.pool.Bookables[rng.Intn(len(s.pool.Bookables))]
	path := fmt.Sprintf("/api/doctors/%s/slots?date=%s&appointmentTypeId=%s", b.DoctorID, s.config.Date.Format(time.DateOnly), b.TypeID)
	s.timedGet(ctx, path, "", &s.metrics.Slots)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.timedGet(ctx, "/api/appointments/my", s.pool.tokens[patientID], &s.metrics.ListMine)
}

func (s *Simulator) timedGet(ctx context.Context, path, token string, om *OperationMetrics) {
	start := time.Now()
	resp, err := s.send(ctx, http.MethodGet, path, token, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	om.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + rule())
	fmt.Println("SIMULATION REPORT")
	fmt.Println(rule())
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Date: %s (%d hot slots per doctor/type)\n", s.config.Date.Format(time.DateOnly), s.config.HotSlots)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("List mine", &s.metrics.ListMine)
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
