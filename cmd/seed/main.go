package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/appointment"
	"github.com/hackgods/clinic-booking-gateway/internal/config"
	"github.com/hackgods/clinic-booking-gateway/internal/db"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/migrations"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var symptoms = []string{
	"Persistent headache for three days",
	"Rash on both forearms",
	"Chest tightness when climbing stairs",
	"Knee pain after running",
	"Follow-up on blood test results",
	"Blurred vision in the evenings",
	"Recurring sore throat",
}

// Morning and afternoon clinic blocks; each doctor gets a random subset per weekday.
var blocks = [][2]string{
	{"09:00", "12:00"},
	{"13:00", "17:00"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	doctors := getInt("SEED_DOCTORS", 20)
	bookings := getInt("SEED_BOOKINGS", 200)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if getEnv("SEED_MIGRATE", "true") == "true" {
		if err := db.ApplySchema(ctx, pool, migrations.FS, logger); err != nil {
			logger.Fatal("apply schema", zap.Error(err))
		}
	}

	gofakeit.Seed(time.Now().UnixNano())

	ids, err := seedDoctors(ctx, pool, doctors, logger)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedBookings(ctx, pool, ids, bookings, cfg, logger); err != nil {
		logger.Fatal("seed bookings", zap.Error(err))
	}

	logger.Info("seed complete", zap.Int("doctors", len(ids)), zap.Int("bookings", bookings))
}

// seedDoctors inserts doctors with weekday availability. Roughly one in ten
// is inactive so the booking flow's rejection path has data.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger *zap.Logger) ([]uuid.UUID, error) {
	logger.Info("seeding doctors", zap.Int("count", count))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		active := gofakeit.Number(1, 10) > 1

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, active)
		if err != nil {
			return nil, fmt.Errorf("insert doctor: %w", err)
		}

		for day := 1; day <= 5; day++ {
			for _, b := range blocks {
				if !gofakeit.Bool() {
					continue
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_availability (id, doctor_id, day_of_week, start_time, end_time, is_active)
					VALUES ($1, $2, $3, $4::time, $5::time, true)
				`, uuid.New(), id, day, b[0], b[1])
				if err != nil {
					return nil, fmt.Errorf("insert availability: %w", err)
				}
			}
		}

		if active {
			ids = append(ids, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded", zap.Int("active", len(ids)))
	return ids, nil
}

// seedBookings claims random free slots in the next two weeks through the
// repository, so the rows look exactly like gateway submissions.
func seedBookings(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID, count int, cfg config.Config, logger *zap.Logger) error {
	if len(doctors) == 0 || count == 0 {
		return nil
	}
	logger.Info("seeding bookings", zap.Int("count", count))

	repo := appointment.NewPgRepository(pool)
	today := time.Now().In(cfg.Location())
	slotMinutes := int(cfg.SlotLength / time.Minute)

	created, conflicts := 0, 0
	for i := 0; i < count; i++ {
		day := today.AddDate(0, 0, gofakeit.Number(1, 14))
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		hour := []int{9, 10, 11, 13, 14, 15, 16}[gofakeit.Number(0, 6)]

		_, err := repo.CreateAppointment(ctx, appointment.Request{
			DoctorID:        doctors[gofakeit.Number(0, len(doctors)-1)].String(),
			Date:            day.Format("2006-01-02"),
			Time:            fmt.Sprintf("%02d:00", hour),
			DurationMinutes: slotMinutes,
			BookingType:     appointment.BookingTypeManual,
			Symptoms:        symptoms[gofakeit.Number(0, len(symptoms)-1)],
			Patient:         fakePatient(),
			Requester:       appointment.Requester{UserID: strconv.Itoa(gofakeit.Number(1000, 9999))},
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, appointment.ErrSlotConflict):
			conflicts++
		default:
			return err
		}
	}

	logger.Info("bookings seeded", zap.Int("created", created), zap.Int("conflicts", conflicts))
	return nil
}

func fakePatient() appointment.PatientInfo {
	p := gofakeit.Person()
	prefix := "Mr."
	if p.Gender == "female" {
		prefix = "Ms."
	}
	return appointment.PatientInfo{
		Prefix:      prefix,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Gender:      p.Gender,
		DateOfBirth: gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-18, 0, 0)).Format("2006-01-02"),
		Nationality: gofakeit.Country(),
		Phone:       gofakeit.Numerify("08########"),
		Email:       gofakeit.Email(),
		Consent:     true,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
