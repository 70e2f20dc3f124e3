package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/polyclinic-scheduler/internal/availability"
	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/clinicdata"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/internal/crowd"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/polyclinic-scheduler/internal/otp"
	"github.com/wolfman30/polyclinic-scheduler/internal/reminders"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/stats"
	"github.com/wolfman30/polyclinic-scheduler/internal/worker"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// redisLoadTTL keeps a day's counters around long enough for late reads.
const redisLoadTTL = 14 * 24 * time.Hour

// Options carries the process-level collaborators the engine does not own.
type Options struct {
	LoadAWS  AWSLoader
	Registry prometheus.Registerer
}

// Engine is every long-lived component of the scheduler, built once per
// process and passed explicitly to the HTTP layer, CLI and workers.
type Engine struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Location *time.Location
	Metrics  *metrics.SchedulerMetrics

	Pool  *pgxpool.Pool
	SQL   *sql.DB
	Redis *redis.Client

	Tokens      *identity.Tokens
	Schedule    schedule.Store
	Visits      bookings.Store
	Users       identity.Directory
	Loads       slotload.Tracker
	Resolver    *availability.Resolver
	Detector    *crowd.Detector
	Verifier    *otp.Verifier
	Dispatcher  *notify.Dispatcher
	Coordinator *bookings.Coordinator
	Reminders   *reminders.Scheduler
	Stats       *stats.Service

	Jobs []*worker.Periodic
}

// Build wires the engine from config. With USE_MEMORY_STORE every store is
// in-process and Postgres is never contacted.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		Config:   cfg,
		Logger:   logger,
		Location: cfg.Location(),
		Tokens:   identity.NewTokens(cfg.JWTSecret),
	}
	if opts.Registry != nil {
		e.Metrics = metrics.NewSchedulerMetrics(opts.Registry)
	}
	if !e.Tokens.Enabled() {
		logger.Warn("JWT_SECRET not set; bearer tokens are rejected and only anonymous routes work")
	}

	e.Redis = BuildRedisClient(ctx, cfg, logger, true)

	deliverer, err := BuildDeliverer(ctx, cfg, opts.LoadAWS, logger)
	if err != nil {
		e.Close(context.Background())
		return nil, err
	}
	e.Dispatcher = notify.NewDispatcher(deliverer, logger).
		WithBuffer(cfg.NotifyBuffer).
		WithWorkers(cfg.NotifyWorkers).
		WithMetrics(e.Metrics)

	var (
		purger  bookings.Purger
		otpRows otp.Store
	)
	if cfg.UseMemoryStore {
		purger, otpRows = e.buildMemory()
	} else {
		purger, otpRows, err = e.buildPostgres(ctx, opts)
		if err != nil {
			e.Close(context.Background())
			return nil, err
		}
	}

	gen, err := otp.NewHOTPGenerator()
	if err != nil {
		e.Close(context.Background())
		return nil, fmt.Errorf("bootstrap: otp generator: %w", err)
	}
	e.Verifier = otp.NewVerifier(e.selectOTPStore(otpRows), gen, e.Dispatcher, logger).
		WithTTL(cfg.OTPTTL).
		WithMetrics(e.Metrics)

	e.Resolver = availability.NewResolver(e.Schedule, e.Visits, logger)
	e.Detector = crowd.NewDetector(e.Loads, logger)
	e.Coordinator = bookings.NewCoordinator(bookings.Deps{
		Doctors:      e.Schedule,
		Availability: e.Resolver,
		Crowd:        e.Detector,
		Visits:       e.Visits,
		Loads:        e.Loads,
		OTP:          e.Verifier,
		Users:        e.Users,
		Purger:       purger,
		Notifier:     e.Dispatcher,
		Metrics:      e.Metrics,
		Logger:       logger,
	}).WithLocation(e.Location).WithLockTimeout(cfg.LockTimeout)

	var dedupe reminders.Deduper = reminders.NewMemoryDeduper()
	if e.Redis != nil {
		dedupe = reminders.NewRedisDeduper(e.Redis)
	}
	e.Reminders = reminders.NewScheduler(e.Visits, e.Users, e.Schedule, dedupe, e.Dispatcher, logger).
		WithLookahead(cfg.ReminderLookahead).
		WithWindow(cfg.ReminderWindow).
		WithLocation(e.Location)

	e.Jobs = []*worker.Periodic{
		worker.NewPeriodic("reminders", cfg.ReminderInterval, func(ctx context.Context) (int, error) {
			return e.Reminders.Sweep(ctx, time.Now())
		}, logger).WithMetrics(e.Metrics),
		worker.NewPeriodic("otp_sweep", cfg.OTPSweepInterval, e.Verifier.Sweep, logger).WithMetrics(e.Metrics),
	}

	logger.Info("engine ready",
		"memory_store", cfg.UseMemoryStore,
		"redis", e.Redis != nil,
		"clinic_tz", e.Location.String(),
	)
	return e, nil
}

func (e *Engine) buildMemory() (bookings.Purger, otp.Store) {
	sched := schedule.NewMemoryStore()
	visits := bookings.NewMemoryStore()
	users := identity.NewMemoryDirectory()
	e.Schedule, e.Visits, e.Users = sched, visits, users
	if e.Redis != nil {
		e.Loads = slotload.NewRedisTracker(e.Redis, redisLoadTTL)
	} else {
		e.Loads = slotload.NewMemoryTracker()
	}
	e.Logger.Warn("using in-memory stores; data is lost on restart")
	return clinicdata.NewMemoryPurger(sched, visits, users), otp.NewMemoryStore()
}

func (e *Engine) buildPostgres(ctx context.Context, opts Options) (bookings.Purger, otp.Store, error) {
	cfg := e.Config
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, errors.New("bootstrap: DATABASE_URL is required unless USE_MEMORY_STORE=true")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: parse DATABASE_URL: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 {
		poolCfg.MinConns = int32(cfg.DBMinConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	e.Pool = pool
	e.SQL = stdlib.OpenDBFromPool(pool)

	e.Schedule = schedule.NewPostgresStore(pool)
	visits := bookings.NewRepository(pool)
	e.Visits = visits
	e.Users = identity.NewPostgresDirectory(pool)
	e.Loads = slotload.NewPostgresTracker(pool)
	e.Stats = stats.NewService(e.SQL, e.Logger).WithLocation(e.Location)

	purger := clinicdata.NewPurger(pool, redisCmdable(e.Redis), e.Logger).WithVisitKeys(reminders.DedupeKey)
	if cfg.ArchiveBucket != "" {
		if opts.LoadAWS == nil {
			e.Logger.Warn("ARCHIVE_BUCKET set but aws config unavailable; doctor removal will not archive")
		} else {
			awsCfg, err := opts.LoadAWS(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("bootstrap: load aws config: %w", err)
			}
			purger.WithArchiver(clinicdata.NewArchiver(clinicdata.ArchiverConfig{
				Visits: visits,
				S3:     s3.NewFromConfig(awsCfg),
				Bucket: cfg.ArchiveBucket,
				Logger: e.Logger,
			}))
		}
	}
	return purger, otp.NewPostgresStore(pool), nil
}

// selectOTPStore honours OTP_STORE, falling back to the backend's default.
func (e *Engine) selectOTPStore(fallback otp.Store) otp.Store {
	switch e.Config.OTPStore {
	case "redis":
		if e.Redis != nil {
			return otp.NewRedisStore(e.Redis)
		}
		e.Logger.Warn("OTP_STORE=redis but redis is unavailable; using default store")
	case "memory":
		return otp.NewMemoryStore()
	}
	return fallback
}

// redisCmdable avoids handing a typed nil *redis.Client to an interface.
func redisCmdable(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}

// StartJobs launches the periodic jobs and the notification workers.
func (e *Engine) StartJobs(ctx context.Context) {
	e.Dispatcher.Start()
	for _, j := range e.Jobs {
		j.Start(ctx)
	}
}

// Close stops background work, then releases connections.
func (e *Engine) Close(ctx context.Context) {
	for _, j := range e.Jobs {
		j.Stop()
	}
	if e.Dispatcher != nil {
		if err := e.Dispatcher.Stop(ctx); err != nil {
			e.Logger.Warn("notification queue not drained", "error", err)
		}
	}
	if e.SQL != nil {
		_ = e.SQL.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}
