// Package clearsky estimates a clear-sky power curve from multi-day PV logs:
// samples are bucketed by time of day, each slot is reduced with a two-stage
// outlier trim, and the slot sequence is smoothed with a Savitzky-Golay
// filter.
package clearsky

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
)

// Params configures one pipeline run.
type Params struct {
	// Granularity is the slot width in minutes and must divide 60.
	Granularity int
	// Window and Order are the Savitzky-Golay window length and polynomial
	// order.
	Window int
	Order  int
	// Workers bounds concurrent slot aggregation; <= 1 runs sequentially.
	Workers int
	// Location, when set, is the zone the time of day is read in.
	Location *time.Location
}

// DefaultParams give 96 quarter-hour slots smoothed with a 15-point
// quadratic filter.
var DefaultParams = Params{
	Granularity: 15,
	Window:      15,
	Order:       2,
}

// Validate checks the granularity and the smoothing parameters against the
// resulting slot count.
func (p Params) Validate() error {
	if err := ValidateGranularity(p.Granularity); err != nil {
		return err
	}
	return ValidateSmoothing(SlotCount(p.Granularity), p.Window, p.Order)
}

// Result is the outcome of one run. Raw and Smoothed share Slots' order and
// length.
type Result struct {
	RunID      string
	Params     Params
	Slots      []model.Slot
	Aggregates []model.SlotAggregate
	Raw        model.Curve
	Smoothed   model.Curve

	Samples   int
	Malformed int
	Stats     AggregateStats
}

// Observer is notified after each run, successful or not.
type Observer interface {
	ObserveRun(res Result, elapsed time.Duration, err error)
}

// Pipeline composes bucketing, aggregation and smoothing.
type Pipeline struct {
	params   Params
	observer Observer
}

// New validates p and returns a pipeline. obs may be nil.
func New(p Params, obs Observer) (*Pipeline, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{params: p, observer: obs}, nil
}

// Params returns the validated parameters the pipeline runs with.
func (p *Pipeline) Params() Params {
	return p.params
}

// Run computes the raw and smoothed clear-sky curves for samples.
func (p *Pipeline) Run(ctx context.Context, samples []model.Sample) (Result, error) {
	start := time.Now()
	res, err := p.run(ctx, samples)
	if p.observer != nil {
		p.observer.ObserveRun(res, time.Since(start), err)
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, samples []model.Sample) (Result, error) {
	res := Result{
		RunID:   uuid.NewString(),
		Params:  p.params,
		Samples: len(samples),
	}
	logger := log.Ctx(ctx).With(slog.String("run_id", res.RunID))
	ctx = log.With(ctx, logger)

	buckets, err := Bucketize(ctx, samples, p.params.Granularity, p.params.Location)
	if err != nil {
		return res, fmt.Errorf("bucketing samples: %w", err)
	}
	res.Slots = buckets.Slots
	res.Malformed = buckets.Malformed

	aggs, stats, err := AggregateSlots(ctx, buckets, p.params.Workers)
	if err != nil {
		return res, fmt.Errorf("aggregating slots: %w", err)
	}
	res.Aggregates = aggs
	res.Stats = stats
	res.Raw = model.Values(aggs)

	res.Smoothed, err = Smooth(res.Raw, p.params.Window, p.params.Order)
	if err != nil {
		return res, fmt.Errorf("smoothing curve: %w", err)
	}

	peakIdx, peak := res.Smoothed.Peak()
	logger.InfoContext(ctx, "clear-sky curve computed",
		slog.Int("samples", res.Samples),
		slog.Int("malformed", res.Malformed),
		slog.Int("rejected", stats.Rejected),
		slog.Int("outliers", stats.Outliers),
		slog.Int("empty_slots", stats.EmptySlots),
		slog.Int("zero_slots", stats.ZeroSlots),
		slog.String("peak_slot", res.Slots[peakIdx].String()),
		slog.Float64("peak_w", peak),
	)
	return res, nil
}

// ComputeClearSkyCurve runs the pipeline once and returns the smoothed curve.
func ComputeClearSkyCurve(samples []model.Sample, granularityMinutes, windowSize, polyOrder int) (model.Curve, error) {
	p, err := New(Params{
		Granularity: granularityMinutes,
		Window:      windowSize,
		Order:       polyOrder,
	}, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.Run(context.Background(), samples)
	if err != nil {
		return nil, err
	}
	return res.Smoothed, nil
}
