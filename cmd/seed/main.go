package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/appointment"
	"github.com/hackgods/healthcare-booking-engine/internal/config"
	"github.com/hackgods/healthcare-booking-engine/internal/db"
	"github.com/hackgods/healthcare-booking-engine/internal/directory"
	"github.com/hackgods/healthcare-booking-engine/internal/logger"
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

func main() {
	doctors := flag.Int("doctors", 50, "number of doctors")
	patients := flag.Int("patients", 2000, "number of patients")
	days := flag.Int("days", 7, "days of availability to publish, starting tomorrow")
	hospitals := flag.Int("hospitals", 5, "number of hospitals doctors are spread across")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreBackend != config.StorePostgres {
		fmt.Fprintln(os.Stderr, "seed needs STORE_BACKEND=postgres")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	s := &seeder{
		tx:    db.NewTransactor(pool),
		dir:   directory.NewPgDirectory(pool),
		slots: appointment.NewPgAvailabilityStore(pool),
		log:   log,
		faker: gofakeit.New(uint64(time.Now().UnixNano())),
	}

	bg := context.Background()
	doctorIDs, err := s.seedDoctors(bg, *doctors, *hospitals)
	if err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := s.seedPatients(bg, *patients); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}
	if err := s.seedSlots(bg, doctorIDs, *days); err != nil {
		log.Fatal("seed slots", zap.Error(err))
	}

	log.Info("seed complete")
}

type seeder struct {
	tx    *db.Transactor
	dir   *directory.PgDirectory
	slots *appointment.PgAvailabilityStore
	log   *zap.Logger
	faker *gofakeit.Faker
}

func (s *seeder) seedDoctors(ctx context.Context, count, hospitals int) ([]string, error) {
	s.log.Info("seeding doctors", zap.Int("count", count))

	ids := make([]string, 0, count)
	err := s.tx.Atomic(ctx, func(ctx context.Context) error {
		for i := 1; i <= count; i++ {
			d := directory.Doctor{
				ID:        fmt.Sprintf("D%03d", i),
				Name:      "Dr. " + s.faker.LastName(),
				Specialty: specialties[s.faker.Number(0, len(specialties)-1)],
			}
			if hospitals > 0 {
				d.HospitalID = fmt.Sprintf("H%02d", s.faker.Number(1, hospitals))
			}
			if err := s.dir.UpsertDoctor(ctx, d); err != nil {
				return err
			}
			ids = append(ids, d.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := s.tx.Atomic(ctx, func(ctx context.Context) error {
			for i := offset; i < end; i++ {
				p := directory.Patient{
					ID:    fmt.Sprintf("P%05d", i+1),
					Name:  s.faker.Name(),
					Email: s.faker.Email(),
					Phone: s.faker.Phone(),
				}
				if err := s.dir.UpsertPatient(ctx, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

// seedSlots publishes half-hour slots from 09:00 to 16:30 on weekdays.
func (s *seeder) seedSlots(ctx context.Context, doctorIDs []string, days int) error {
	var times []string
	for h := 9; h < 17; h++ {
		times = append(times, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}

	start := time.Now().UTC().AddDate(0, 0, 1)
	published := 0
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format(appointment.DateLayout)

		err := s.tx.Atomic(ctx, func(ctx context.Context) error {
			for _, id := range doctorIDs {
				if _, err := s.slots.Publish(ctx, id, date, times); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", date, err)
		}
		published += len(doctorIDs) * len(times)
	}

	s.log.Info("slots published", zap.Int("count", published))
	return nil
}
