// Package crowd flags slots whose demand is a statistical outlier for the day.
package crowd

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var tracer = otel.Tracer("polyclinic.internal.crowd")

// DefaultMinCount is the demand floor below which a slot is never crowded.
const DefaultMinCount = 5

// LoadReader is the read side of slotload.Tracker.
type LoadReader interface {
	Day(ctx context.Context, date timegrid.Date) ([]slotload.SlotLoad, error)
}

// Assessment is the advisory verdict for one slot.
type Assessment struct {
	Crowded     bool             `json:"crowded"`
	Suggestions []timegrid.Clock `json:"suggestions"`
	Count       int              `json:"count"`
	Mean        float64          `json:"mean"`
	StdDev      float64          `json:"stddev"`
}

// Detector never writes; Evaluate can be called any number of times.
type Detector struct {
	loads    LoadReader
	minCount int
	logger   *logging.Logger
}

func NewDetector(loads LoadReader, logger *logging.Logger) *Detector {
	if loads == nil {
		panic("crowd: load reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{loads: loads, minCount: DefaultMinCount, logger: logger}
}

// WithMinCount changes the low-volume floor.
func (d *Detector) WithMinCount(n int) *Detector {
	if n > 0 {
		d.minCount = n
	}
	return d
}

// Evaluate tests whether one more booking at (date, at) would make the slot an outlier:
// crowded when count+1 exceeds the day's mean plus one sample standard deviation.
func (d *Detector) Evaluate(ctx context.Context, date timegrid.Date, at timegrid.Clock) (Assessment, error) {
	ctx, span := tracer.Start(ctx, "crowd.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("polyclinic.date", date.String()),
		attribute.String("polyclinic.time", at.String()),
	)

	loads, err := d.loads.Day(ctx, date)
	if err != nil {
		span.RecordError(err)
		return Assessment{}, fmt.Errorf("crowd: load day: %w", err)
	}
	a := Assess(loads, at, d.minCount)
	span.SetAttributes(attribute.Bool("polyclinic.crowded", a.Crowded))
	if a.Crowded {
		d.logger.Debug("slot crowded", "date", date.String(), "time", at.String(),
			"count", a.Count, "mean", a.Mean, "stddev", a.StdDev, "suggestions", len(a.Suggestions))
	}
	return a, nil
}

// Assess is the pure part of Evaluate.
func Assess(loads []slotload.SlotLoad, at timegrid.Clock, minCount int) Assessment {
	a := Assessment{Suggestions: []timegrid.Clock{}}
	if len(loads) == 0 {
		return a
	}
	for _, l := range loads {
		if l.Time == at {
			a.Count = l.CurrentPatients
			break
		}
	}
	if a.Count < minCount || len(loads) < 2 {
		return a
	}

	counts := make([]float64, len(loads))
	for i, l := range loads {
		counts[i] = float64(l.CurrentPatients)
	}
	a.Mean, a.StdDev = meanStdDev(counts)

	if float64(a.Count+1) <= a.Mean+a.StdDev {
		return a
	}
	a.Crowded = true
	for _, l := range loads {
		if float64(l.CurrentPatients) < a.Mean {
			a.Suggestions = append(a.Suggestions, l.Time)
		}
	}
	return a
}

// meanStdDev uses the sample (n-1) standard deviation. len(xs) must be at least 2.
func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}
