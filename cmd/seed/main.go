package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaxsched/vaccine-scheduler/internal/db"
)

// Every seeded account gets this password; it satisfies the registration
// policy so seeded users can also log in through the API.
const seedPassword = "Vax#2024demo"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash seed password: %v", err)
	}

	caregivers, err := seedAccounts(context.Background(), pool, "caregiver", 20, string(hash))
	if err != nil {
		log.Fatalf("seed caregivers: %v", err)
	}
	if _, err := seedAccounts(context.Background(), pool, "patient", 200, string(hash)); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedVaccines(context.Background(), pool); err != nil {
		log.Fatalf("seed vaccines: %v", err)
	}
	if err := seedAvailabilities(context.Background(), pool, caregivers); err != nil {
		log.Fatalf("seed availabilities: %v", err)
	}

	log.Println("seed complete")
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool, role string, count int, hash string) ([]string, error) {
	log.Printf("seeding %d %ss", count, role)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	usernames := make([]string, 0, count)
	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%d", strings.ToLower(gofakeit.FirstName()), gofakeit.Number(1, 9999))

		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (username, password_hash, role, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (username) DO NOTHING
		`, username, hash, role)
		if err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return usernames, nil
}

func seedVaccines(ctx context.Context, pool *pgxpool.Pool) error {
	vaccines := map[string]int{
		"pfizer":      500,
		"moderna":     400,
		"astrazeneca": 300,
		"novavax":     150,
		"janssen":     100,
	}
	log.Printf("seeding %d vaccines", len(vaccines))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for name, doses := range vaccines {
		_, err := tx.Exec(ctx, `
			INSERT INTO vaccines (name, doses)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET doses = EXCLUDED.doses
		`, name, doses)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedAvailabilities(ctx context.Context, pool *pgxpool.Pool, caregivers []string) error {
	log.Printf("seeding availabilities for %d caregivers", len(caregivers))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := time.Now().Truncate(24 * time.Hour)
	for _, caregiver := range caregivers {
		// Each caregiver offers roughly half of the next 30 days.
		for day := 0; day < 30; day++ {
			if gofakeit.Bool() {
				continue
			}
			date := today.AddDate(0, 0, day)
			_, err := tx.Exec(ctx, `
				INSERT INTO availabilities (avail_date, caregiver)
				VALUES ($1, $2)
				ON CONFLICT (avail_date, caregiver) DO NOTHING
			`, date, caregiver)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}
