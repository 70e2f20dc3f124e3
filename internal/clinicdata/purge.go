package clinicdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Purger runs the removals that span several tables. Each runs in one
// transaction: either everything goes or nothing does.
type Purger struct {
	db        db
	redis     redis.Cmdable
	archiver  *Archiver
	visitKeys func(uuid.UUID) string
	logger    *logging.Logger
}

func NewPurger(db db, redis redis.Cmdable, logger *logging.Logger) *Purger {
	if logger == nil {
		logger = logging.Default()
	}
	return &Purger{db: db, redis: redis, logger: logger}
}

// WithArchiver uploads a doctor's visit history before it is deleted.
func (p *Purger) WithArchiver(a *Archiver) *Purger {
	p.archiver = a
	return p
}

// WithVisitKeys names the per-visit Redis keys to clear after a purge.
func (p *Purger) WithVisitKeys(fn func(uuid.UUID) string) *Purger {
	p.visitKeys = fn
	return p
}

type PurgeCounts struct {
	Visits     int64
	Rules      int64
	Exceptions int64
	Users      int64
}

// PurgeDoctor deletes the doctor with rules, exceptions, visits and the
// linked user account. It returns the number of visits removed.
func (p *Purger) PurgeDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("clinicdata: database not configured")
	}
	if p.archiver != nil {
		if _, err := p.archiver.ArchiveDoctor(ctx, doctorID); err != nil {
			return 0, fmt.Errorf("clinicdata: archive before purge: %w", err)
		}
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID *uuid.UUID
	err = tx.QueryRow(ctx, `SELECT user_id FROM doctors WHERE id = $1 FOR UPDATE`, doctorID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, schedule.ErrDoctorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("clinicdata: lock doctor: %w", err)
	}

	rows, err := tx.Query(ctx, `DELETE FROM visits WHERE doctor_id = $1 RETURNING id`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: delete visits: %w", err)
	}
	var visitIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("clinicdata: scan visit id: %w", err)
		}
		visitIDs = append(visitIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("clinicdata: delete visits: %w", err)
	}

	var counts PurgeCounts
	counts.Visits = int64(len(visitIDs))
	counts.Rules, err = execRowsAffected(ctx, tx, `DELETE FROM weekly_rules WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: delete weekly rules: %w", err)
	}
	counts.Exceptions, err = execRowsAffected(ctx, tx, `DELETE FROM date_exceptions WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: delete exceptions: %w", err)
	}
	if _, err := execRowsAffected(ctx, tx, `DELETE FROM doctors WHERE id = $1`, doctorID); err != nil {
		return 0, fmt.Errorf("clinicdata: delete doctor: %w", err)
	}
	if userID != nil {
		counts.Users, err = execRowsAffected(ctx, tx, `DELETE FROM users WHERE id = $1`, *userID)
		if err != nil {
			return 0, fmt.Errorf("clinicdata: delete doctor user: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("clinicdata: commit purge: %w", err)
	}
	p.clearVisitKeys(ctx, visitIDs)

	p.logger.Info("clinicdata: doctor purged",
		"doctor_id", doctorID,
		"visits", counts.Visits,
		"rules", counts.Rules,
		"exceptions", counts.Exceptions,
		"users", counts.Users,
	)
	return len(visitIDs), nil
}

// ReassignStaff moves every visit created by staffID to adminID and deletes
// the staff account. It returns the number of visits moved.
func (p *Purger) ReassignStaff(ctx context.Context, staffID, adminID uuid.UUID) (int, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("clinicdata: database not configured")
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	moved, err := execRowsAffected(ctx, tx, `UPDATE visits SET created_by = $2 WHERE created_by = $1`, staffID, adminID)
	if err != nil {
		return 0, fmt.Errorf("clinicdata: reassign visits: %w", err)
	}
	deleted, err := execRowsAffected(ctx, tx, `DELETE FROM users WHERE id = $1 AND kind = $2`, staffID, string(identity.KindStaff))
	if err != nil {
		return 0, fmt.Errorf("clinicdata: delete staff user: %w", err)
	}
	if deleted == 0 {
		return 0, identity.ErrUserNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("clinicdata: commit reassign: %w", err)
	}
	p.logger.Info("clinicdata: staff removed", "staff_id", staffID, "admin_id", adminID, "visits_reassigned", moved)
	return int(moved), nil
}

func (p *Purger) clearVisitKeys(ctx context.Context, visitIDs []uuid.UUID) {
	if p.redis == nil || p.visitKeys == nil || len(visitIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(visitIDs))
	for _, id := range visitIDs {
		keys = append(keys, p.visitKeys(id))
	}
	if err := p.redis.Del(ctx, keys...).Err(); err != nil {
		p.logger.Warn("clinicdata purge: redis DEL failed", "error", err, "keys", len(keys))
	}
}

func execRowsAffected(ctx context.Context, tx pgx.Tx, query string, args ...any) (int64, error) {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
