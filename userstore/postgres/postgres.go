// Package postgres is an authcore.UserStore backed by PostgreSQL through a
// pgx connection pool. The users table is created by embedded goose
// migrations; call Migrate once at startup.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/userstore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store reads and writes the users table.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Create inserts an account. A taken address returns userstore.ErrEmailTaken.
func (s *Store) Create(ctx context.Context, email, passwordHash string) (authcore.UserRecord, error) {
	u := authcore.UserRecord{
		ID:           uuid.NewString(),
		Email:        authcore.NormalizeEmail(email),
		PasswordHash: passwordHash,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
	`, u.ID, u.Email, u.PasswordHash)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authcore.UserRecord{}, userstore.ErrEmailTaken
		}
		return authcore.UserRecord{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	return s.findOne(ctx, `
		SELECT id, email, password_hash, disabled
		FROM users
		WHERE email = $1
		LIMIT 1
	`, authcore.NormalizeEmail(email))
}

func (s *Store) FindByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.findOne(ctx, `
		SELECT id, email, password_hash, disabled
		FROM users
		WHERE id = $1
	`, id)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateOne(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`, userID, passwordHash)
}

// SetDisabled blocks or unblocks an account.
func (s *Store) SetDisabled(ctx context.Context, userID string, disabled bool) error {
	return s.updateOne(ctx, `
		UPDATE users SET disabled = $2, updated_at = now()
		WHERE id = $1
	`, userID, disabled)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (authcore.UserRecord, error) {
	var u authcore.UserRecord
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

func (s *Store) updateOne(ctx context.Context, query string, userID string, value any) error {
	if _, err := uuid.Parse(userID); err != nil {
		return authcore.ErrUserNotFound
	}
	tag, err := s.pool.Exec(ctx, query, userID, value)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
