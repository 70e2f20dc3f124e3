package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound = errors.New("identity: user not found")
	ErrUserExists   = errors.New("identity: user already exists")
)

// User is a row of the users table. Credentials live elsewhere.
type User struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory looks users up for notification addressing and admin tooling.
type Directory interface {
	User(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads the users table.
type PostgresDirectory struct {
	db queryRower
}

var _ Directory = (*PostgresDirectory)(nil)

func NewPostgresDirectory(db queryRower) *PostgresDirectory {
	if db == nil {
		panic("identity: postgres db required")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) User(ctx context.Context, id uuid.UUID) (User, error) {
	var (
		u    User
		kind string
	)
	err := d.db.QueryRow(ctx,
		`SELECT id, kind, email, name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &kind, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: get user: %w", err)
	}
	u.Kind = Kind(kind)
	return u, nil
}

func (d *PostgresDirectory) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, err := ParseKind(string(u.Kind)); err != nil {
		return User{}, err
	}
	err := d.db.QueryRow(ctx,
		`INSERT INTO users (id, kind, email, name) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		u.ID, string(u.Kind), u.Email, u.Name,
	).Scan(&u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return User{}, fmt.Errorf("%w: %s %s", ErrUserExists, u.Kind, u.Email)
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: create user: %w", err)
	}
	return u, nil
}

// MemoryDirectory is the in-process Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[uuid.UUID]User)}
}

func (d *MemoryDirectory) User(_ context.Context, id uuid.UUID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) CreateUser(_ context.Context, u User) (User, error) {
	if _, err := ParseKind(string(u.Kind)); err != nil {
		return User{}, err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.users {
		if existing.Kind == u.Kind && strings.EqualFold(existing.Email, u.Email) {
			return User{}, fmt.Errorf("%w: %s %s", ErrUserExists, u.Kind, u.Email)
		}
	}
	d.users[u.ID] = u
	return u, nil
}

// DeleteUser removes a user; used by the in-memory purge paths.
func (d *MemoryDirectory) DeleteUser(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.users[id]
	delete(d.users, id)
	return ok
}
