package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/availability"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/db"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
	"github.com/hackgods/clinic-teleconsult-scheduling/pkg/logging"
)

var affiliations = []string{"north-health", "south-health", "university", "self-pay", ""}

func main() {
	doctors := flag.Int("doctors", 100, "number of doctors to create")
	patients := flag.Int("patients", 9000, "number of patients to create")
	flag.Parse()

	logger := logging.New("seed", "dev", "info")
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), pool, faker, logger, *doctors); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, faker, logger, *patients); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

// seedDoctors inserts doctors together with a weekly template: weekday
// mornings or full days, with one of a few common slot widths.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger zerolog.Logger, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
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
	slotWidths := []int{15, 20, 30, 45}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	templates := availability.NewPgRepository(tx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+faker.Name(), spec)
		if err != nil {
			return err
		}

		tpl := schedule.EmptyTemplate(id)
		width := slotWidths[faker.Number(0, len(slotWidths)-1)]
		end := schedule.MustClock("17:00")
		if faker.Bool() {
			end = schedule.MustClock("12:00")
		}
		for wd := schedule.Weekday(0); wd < 5; wd++ {
			tpl.Days[wd] = schedule.DayRule{
				Weekday:     wd,
				Active:      true,
				Start:       schedule.MustClock("08:00"),
				End:         end,
				SlotMinutes: width,
			}
		}
		if err := templates.SaveTemplate(ctx, tpl); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger zerolog.Logger, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			var affiliation *string
			if a := affiliations[faker.Number(0, len(affiliations)-1)]; a != "" {
				affiliation = &a
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, affiliation, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), faker.Name(), faker.Email(), affiliation)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	logger.Info().Msg("patients seeded")
	return nil
}
