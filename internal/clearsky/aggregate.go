package clearsky

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"pv_clearsky/internal/model"
)

// TrimSigma is the half-width of the first-stage band, in standard
// deviations around the slot mean.
const TrimSigma = 1.5

// TrimResult records every stage of the two-stage trim for one slot.
type TrimResult struct {
	// Valid holds the finite inputs; Rejected counts the others.
	Valid    []float64
	Rejected int

	Mean   float64
	StdDev float64

	// Stage1 keeps values strictly inside Mean ± TrimSigma·StdDev.
	Stage1     []float64
	Stage1Mean float64

	// Stage2 keeps Stage1 values strictly above Stage1Mean.
	Stage2 []float64

	Value float64
}

// Outliers is the number of valid values removed by the first stage.
func (t TrimResult) Outliers() int {
	return len(t.Valid) - len(t.Stage1)
}

// Trim reduces a slot's values to a clear-sky estimate. Gross outliers are
// removed symmetrically, then only values above the remaining mean are kept,
// since anything below it is assumed to be weather degraded.
//
// The standard deviation is the population one (divide by n). Both filters
// use strict inequalities, so a constant input trims to nothing and yields 0.
func Trim(values []float64) TrimResult {
	var t TrimResult
	if len(values) == 0 {
		return t
	}

	t.Valid = make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Rejected++
			continue
		}
		t.Valid = append(t.Valid, v)
	}
	if len(t.Valid) == 0 {
		return t
	}

	t.Mean, t.StdDev = popMeanStdDev(t.Valid)
	lo := t.Mean - TrimSigma*t.StdDev
	hi := t.Mean + TrimSigma*t.StdDev

	for _, v := range t.Valid {
		if v > lo && v < hi {
			t.Stage1 = append(t.Stage1, v)
		}
	}
	if len(t.Stage1) == 0 {
		return t
	}

	t.Stage1Mean = stat.Mean(t.Stage1, nil)
	for _, v := range t.Stage1 {
		if v > t.Stage1Mean {
			t.Stage2 = append(t.Stage2, v)
		}
	}
	if len(t.Stage2) == 0 {
		return t
	}

	t.Value = stat.Mean(t.Stage2, nil)
	return t
}

// RobustMean is Trim(values).Value.
func RobustMean(values []float64) float64 {
	return Trim(values).Value
}

// popMeanStdDev returns the mean and the population (ddof = 0) standard
// deviation of xs. A single value has a deviation of 0.
func popMeanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.PopMeanStdDev(xs, nil)
}

// AggregateStats summarises a full aggregation pass.
type AggregateStats struct {
	// EmptySlots had no finite values at all.
	EmptySlots int
	// ZeroSlots ended at 0 for any reason, including EmptySlots.
	ZeroSlots int
	Rejected  int
	Outliers  int
}

// AggregateSlots trims every slot independently. With workers > 1 the slots
// are reduced concurrently by at most that many goroutines. The result is
// always in the slot order of b.
func AggregateSlots(ctx context.Context, b Buckets, workers int) ([]model.SlotAggregate, AggregateStats, error) {
	trims := make([]TrimResult, len(b.Slots))

	if workers <= 1 {
		for i := range b.Slots {
			if err := ctx.Err(); err != nil {
				return nil, AggregateStats{}, err
			}
			trims[i] = Trim(b.Values[i])
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range b.Slots {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				trims[i] = Trim(b.Values[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, AggregateStats{}, err
		}
	}

	var stats AggregateStats
	aggs := make([]model.SlotAggregate, len(b.Slots))
	for i, t := range trims {
		aggs[i] = model.SlotAggregate{Slot: b.Slots[i], Value: t.Value}
		if len(t.Valid) == 0 {
			stats.EmptySlots++
		}
		if t.Value == 0 {
			stats.ZeroSlots++
		}
		stats.Rejected += t.Rejected
		stats.Outliers += t.Outliers()
	}
	return aggs, stats, nil
}
