package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
)

func tokenForEmail(ctx context.Context, pool *pgxpool.Pool, secret []byte, email string, ttl time.Duration) (string, error) {
	var (
		id   uuid.UUID
		role string
	)
	err := pool.QueryRow(ctx, `SELECT id, role FROM users WHERE email = $1`, email).Scan(&id, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("no user with email %s", email)
	}
	if err != nil {
		return "", err
	}
	return api.SignToken(secret, id, appointment.Role(role), ttl)
}
