package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Code is one outstanding one-time code. An email may hold several.
type Code struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Store persists outstanding codes.
type Store interface {
	Save(ctx context.Context, c Code) error
	// Consume deletes one unexpired (email, code) match and reports whether
	// one existed.
	Consume(ctx context.Context, email, code string, now time.Time) (bool, error)
	// DeleteExpired removes every code that expired at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// NormalizeEmail trims and lower-cases an address so issue and verify agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps codes in the otps table.
type PostgresStore struct {
	db execer
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db execer) *PostgresStore {
	if db == nil {
		panic("otp: postgres db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, c Code) error {
	if c.Email == "" || c.Code == "" {
		return errors.New("otp: email and code required")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO otps (email, code, expires_at) VALUES ($1, $2, $3)`,
		c.Email, c.Code, c.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("otp: insert code: %w", err)
	}
	return nil
}

func (s *PostgresStore) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM otps
		WHERE id = (
			SELECT id FROM otps
			WHERE email = $1 AND code = $2 AND expires_at > $3
			ORDER BY expires_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)`,
		email, code, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("otp: consume code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM otps WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("otp: delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
