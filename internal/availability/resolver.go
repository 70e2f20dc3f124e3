// Package availability decides whether a doctor can be booked at a date and time.
//
// A date exception wins over the weekly rules, and the weekly rules win over the
// clinic's default opening hours. Weekly rules for one weekday form a set of
// windows: a time is bookable when any of them contains it.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var tracer = otel.Tracer("polyclinic.internal.availability")

// Source names the input that produced a verdict.
type Source string

const (
	SourceException Source = "exception"
	SourceWeekly    Source = "weekly"
	SourceDefault   Source = "default"
)

// Verdict is the resolver's answer for one (doctor, date, time).
type Verdict struct {
	Available bool   `json:"available"`
	Capacity  int    `json:"capacity"`
	Source    Source `json:"source"`
}

// Policy holds the fallbacks used when a doctor has no rule for the day.
type Policy struct {
	DefaultOpen       timegrid.Clock
	DefaultClose      timegrid.Clock
	DefaultCapacity   int
	ExceptionCapacity int
	SlotStep          time.Duration
}

// DefaultPolicy opens 08:00-22:00 with ten patients per slot.
func DefaultPolicy() Policy {
	return Policy{
		DefaultOpen:       timegrid.NewClock(8, 0, 0),
		DefaultClose:      timegrid.NewClock(22, 0, 0),
		DefaultCapacity:   10,
		ExceptionCapacity: 1,
		SlotStep:          timegrid.DefaultStep,
	}
}

// ScheduleReader is the read side of schedule.Store the resolver needs.
type ScheduleReader interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (schedule.Doctor, error)
	ExceptionOn(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) (schedule.DateException, error)
	RulesForDay(ctx context.Context, doctorID uuid.UUID, weekday int) ([]schedule.WeeklyRule, error)
}

// OccupancyReader reports which times a doctor already has visits at.
type OccupancyReader interface {
	OccupiedTimes(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) ([]timegrid.Clock, error)
}

// Resolver is read-only and safe for concurrent use.
type Resolver struct {
	schedule  ScheduleReader
	occupancy OccupancyReader
	policy    Policy
	logger    *logging.Logger
}

// NewResolver builds a resolver. occupancy may be nil when OpenSlots is unused.
func NewResolver(store ScheduleReader, occupancy OccupancyReader, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("availability: schedule reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{schedule: store, occupancy: occupancy, policy: DefaultPolicy(), logger: logger}
}

// WithPolicy overrides the fallback policy.
func (r *Resolver) WithPolicy(p Policy) *Resolver {
	if p.SlotStep <= 0 {
		p.SlotStep = timegrid.DefaultStep
	}
	r.policy = p
	return r
}

// Policy returns the active fallback policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve returns whether the doctor is bookable at date/at and with what slot capacity.
func (r *Resolver) Resolve(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, at timegrid.Clock) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "availability.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("polyclinic.doctor_id", doctorID.String()),
		attribute.String("polyclinic.date", date.String()),
		attribute.String("polyclinic.time", at.String()),
	)

	v, err := r.resolve(ctx, doctorID, date, at)
	if err != nil {
		span.RecordError(err)
		return Verdict{}, err
	}
	span.SetAttributes(
		attribute.Bool("polyclinic.available", v.Available),
		attribute.Int("polyclinic.capacity", v.Capacity),
		attribute.String("polyclinic.source", string(v.Source)),
	)
	return v, nil
}

func (r *Resolver) resolve(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, at timegrid.Clock) (Verdict, error) {
	if _, err := r.schedule.GetDoctor(ctx, doctorID); err != nil {
		return Verdict{}, err
	}

	exc, hasException, err := r.exception(ctx, doctorID, date)
	if err != nil {
		return Verdict{}, err
	}
	rules, err := r.schedule.RulesForDay(ctx, doctorID, timegrid.WeekdayOf(date))
	if err != nil {
		return Verdict{}, fmt.Errorf("availability: rules for day: %w", err)
	}

	if hasException {
		if exc.Status == schedule.ExceptionCancelled {
			return Verdict{Source: SourceException}, nil
		}
		window, ok := exc.Window()
		if !ok || !window.Contains(at) {
			return Verdict{Source: SourceException}, nil
		}
		return Verdict{Available: true, Capacity: r.exceptionCapacity(rules, at), Source: SourceException}, nil
	}

	if len(rules) > 0 {
		best := 0
		for _, rule := range rules {
			if rule.Window().Contains(at) && rule.MaxPatientsPerSlot > best {
				best = rule.MaxPatientsPerSlot
			}
		}
		if best == 0 {
			return Verdict{Source: SourceWeekly}, nil
		}
		return Verdict{Available: true, Capacity: best, Source: SourceWeekly}, nil
	}

	if timegrid.InRange(at, r.policy.DefaultOpen, r.policy.DefaultClose) {
		return Verdict{Available: true, Capacity: r.policy.DefaultCapacity, Source: SourceDefault}, nil
	}
	return Verdict{Source: SourceDefault}, nil
}

// exceptionCapacity prefers the weekly rule containing at, then the day's first rule.
func (r *Resolver) exceptionCapacity(rules []schedule.WeeklyRule, at timegrid.Clock) int {
	for _, rule := range rules {
		if rule.Window().Contains(at) {
			return rule.MaxPatientsPerSlot
		}
	}
	if len(rules) > 0 {
		return rules[0].MaxPatientsPerSlot
	}
	return r.policy.ExceptionCapacity
}

func (r *Resolver) exception(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) (schedule.DateException, bool, error) {
	exc, err := r.schedule.ExceptionOn(ctx, doctorID, date)
	if errors.Is(err, schedule.ErrExceptionNotFound) {
		return schedule.DateException{}, false, nil
	}
	if err != nil {
		return schedule.DateException{}, false, fmt.Errorf("availability: exception lookup: %w", err)
	}
	return exc, true, nil
}

// Windows returns the open windows for the doctor's day, empty when the day is off.
func (r *Resolver) Windows(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) ([]timegrid.Interval, error) {
	if _, err := r.schedule.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	exc, hasException, err := r.exception(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if hasException {
		if window, ok := exc.Window(); ok {
			return []timegrid.Interval{window}, nil
		}
		return nil, nil
	}
	rules, err := r.schedule.RulesForDay(ctx, doctorID, timegrid.WeekdayOf(date))
	if err != nil {
		return nil, fmt.Errorf("availability: rules for day: %w", err)
	}
	if len(rules) == 0 {
		return []timegrid.Interval{{Start: r.policy.DefaultOpen, End: r.policy.DefaultClose}}, nil
	}
	windows := make([]timegrid.Interval, 0, len(rules))
	for _, rule := range rules {
		windows = append(windows, rule.Window())
	}
	return windows, nil
}

// OpenSlots lists grid times inside the day's windows that the doctor has no visit at.
// When date is today relative to now, times already past are dropped.
func (r *Resolver) OpenSlots(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, now time.Time) ([]timegrid.Clock, error) {
	ctx, span := tracer.Start(ctx, "availability.open_slots")
	defer span.End()

	windows, err := r.Windows(ctx, doctorID, date)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(windows) == 0 {
		return []timegrid.Clock{}, nil
	}

	occupied := map[timegrid.Clock]struct{}{}
	if r.occupancy != nil {
		times, err := r.occupancy.OccupiedTimes(ctx, doctorID, date)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("availability: occupied times: %w", err)
		}
		for _, t := range times {
			occupied[t] = struct{}{}
		}
	}

	isToday := timegrid.DateOf(now) == date
	cutoff := timegrid.ClockOf(now)

	seen := map[timegrid.Clock]struct{}{}
	slots := []timegrid.Clock{}
	for _, w := range windows {
		for _, t := range w.Slots(r.policy.SlotStep) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			if isToday && t < cutoff {
				continue
			}
			if _, taken := occupied[t]; taken {
				continue
			}
			slots = append(slots, t)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}
