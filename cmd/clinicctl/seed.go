package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type seedDoctor struct {
	Email     string
	Name      string
	Specialty string
	Bio       string
}

var seedDoctors = []seedDoctor{
	{"dr.smith@unihealth.com", "Dr. Sarah Smith", "Psychologist", "Specialist in student anxiety and stress management."},
	{"dr.jones@unihealth.com", "Dr. Michael Jones", "General Practitioner", "General health and urgent care services."},
	{"dr.lee@unihealth.com", "Dr. Emily Lee", "Dermatologist", "Expert in skin care and acne treatment for young adults."},
	{"dr.patel@unihealth.com", "Dr. Raj Patel", "Nutritionist", "Helping students maintain a healthy diet and lifestyle."},
	{"dr.garcia@unihealth.com", "Dr. Elena Garcia", "Sports Medicine", "Focus on sports injuries and physical therapy."},
}

type seedType struct {
	Name     string
	Duration int // minutes
}

var seedTypes = []seedType{
	{"Quick Consultation", 15},
	{"Follow-up", 30},
	{"First Visit", 45},
}

const adminEmail = "admin@unihealth.com"

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo doctors, appointment types, an admin and fake patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			patients, _ := cmd.Flags().GetInt("patients")
			password, _ := cmd.Flags().GetString("password")

			pool, _, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			if err := seedClinic(ctx, pool, string(hash)); err != nil {
				return fmt.Errorf("seed doctors: %w", err)
			}
			if err := seedPatients(ctx, pool, string(hash), patients); err != nil {
				return fmt.Errorf("seed patients: %w", err)
			}

			fmt.Println("seed complete")
			return nil
		},
	}
	cmd.Flags().Int("patients", 50, "Number of fake patients to create")
	cmd.Flags().String("password", "password123", "Password for every seeded account")
	return cmd
}

// upsertUser returns the id of the user with this email, creating it first
// when missing. Existing users are left untouched.
func upsertUser(ctx context.Context, tx pgx.Tx, name, email, hash string, role appointment.Role) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, uuid.New(), name, email, hash, string(role)).Scan(&id)
	return id, err
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, hash string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := upsertUser(ctx, tx, "Clinic Admin", adminEmail, hash, appointment.RoleAdmin); err != nil {
			return fmt.Errorf("admin: %w", err)
		}

		for _, d := range seedDoctors {
			userID, err := upsertUser(ctx, tx, d.Name, d.Email, hash, appointment.RoleDoctor)
			if err != nil {
				return fmt.Errorf("user %s: %w", d.Email, err)
			}

			var doctorID uuid.UUID
			err = tx.QueryRow(ctx, `
				INSERT INTO doctors (id, user_id, specialty, bio, available, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, now(), now())
				ON CONFLICT (user_id) DO UPDATE SET specialty = EXCLUDED.specialty
				RETURNING id
			`, uuid.New(), userID, d.Specialty, d.Bio).Scan(&doctorID)
			if err != nil {
				return fmt.Errorf("doctor %s: %w", d.Name, err)
			}

			for _, t := range seedTypes {
				_, err := tx.Exec(ctx, `
					INSERT INTO appointment_types (id, doctor_id, name, duration_minutes, price, created_at)
					SELECT $1, $2, $3, $4, 0, now()
					WHERE NOT EXISTS (
						SELECT 1 FROM appointment_types WHERE doctor_id = $2 AND name = $3
					)
				`, uuid.New(), doctorID, t.Name, t.Duration)
				if err != nil {
					return fmt.Errorf("appointment type %s for %s: %w", t.Name, d.Name, err)
				}
			}
			fmt.Printf("created/updated: %s\n", d.Name)
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, hash string, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				name := gofakeit.Name()
				if _, err := upsertUser(ctx, tx, name, patientEmail(name, i), hash, appointment.RolePatient); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("patients seeded: %d/%d\n", end, count)
	}
	return nil
}

// patientEmail is unique per index so reruns do not collide with fake names.
func patientEmail(name string, i int) string {
	local := strings.ToLower(strings.Join(strings.Fields(name), "."))
	return fmt.Sprintf("%s.%d@students.unihealth.com", local, i)
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Print a session token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ttl, _ := cmd.Flags().GetDuration("ttl")

			pool, cfg, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := cfg.RequireJWTSecret(); err != nil {
				return err
			}

			tok, err := tokenForEmail(ctx, pool, []byte(cfg.JWTSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
