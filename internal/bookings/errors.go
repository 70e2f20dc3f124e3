package bookings

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidInput        = errors.New("bookings: invalid input")
	ErrNotAvailable        = errors.New("bookings: doctor not available at this time")
	ErrOTPRequired         = errors.New("bookings: verification code required")
	ErrOTPInvalidOrExpired = errors.New("bookings: verification code invalid or expired")
	ErrForbidden           = errors.New("bookings: not allowed")
	ErrNotFound            = errors.New("bookings: not found")
	// ErrConcurrencyConflict means the slot was contended; the caller should retry.
	ErrConcurrencyConflict = errors.New("bookings: concurrent update, retry")
)

func invalid(reason string) error {
	return errors.Join(ErrInvalidInput, errors.New(reason))
}

// conflict maps Postgres serialization failures and lock timeouts to
// ErrConcurrencyConflict and leaves other errors alone.
func conflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "55P03") {
		return errors.Join(ErrConcurrencyConflict, err)
	}
	return err
}
