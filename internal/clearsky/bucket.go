package clearsky

import (
	"context"
	"log/slog"
	"time"

	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
)

const minutesPerDay = 24 * 60

// ValidateGranularity checks that slots of g minutes tile every hour.
func ValidateGranularity(g int) error {
	if g < 1 || g > 60 || 60%g != 0 {
		return &ParameterError{Name: "granularity", Value: g, Reason: "must be a divisor of 60"}
	}
	return nil
}

// SlotCount is the number of slots per day for granularity g.
func SlotCount(g int) int {
	return minutesPerDay / g
}

// Slots lists every slot of the day in ascending order.
func Slots(g int) ([]model.Slot, error) {
	if err := ValidateGranularity(g); err != nil {
		return nil, err
	}
	slots := make([]model.Slot, 0, SlotCount(g))
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m += g {
			slots = append(slots, model.Slot{Hour: h, Minute: m})
		}
	}
	return slots, nil
}

// Buckets groups sample values by time of day.
type Buckets struct {
	Granularity int
	// Slots and Values are parallel, in ascending slot order.
	Slots  []model.Slot
	Values [][]float64
	// Malformed counts samples dropped for lacking a usable timestamp.
	Malformed int
}

// Index returns the position of the slot containing t.
func (b Buckets) Index(t time.Time) int {
	return t.Hour()*(60/b.Granularity) + t.Minute()/b.Granularity
}

// Bucketize partitions samples into time-of-day slots of granularity
// minutes, discarding the date. When loc is non-nil the time of day is taken
// in that zone. Samples with a zero timestamp are dropped and counted.
func Bucketize(ctx context.Context, samples []model.Sample, granularity int, loc *time.Location) (Buckets, error) {
	slots, err := Slots(granularity)
	if err != nil {
		return Buckets{}, err
	}

	b := Buckets{
		Granularity: granularity,
		Slots:       slots,
		Values:      make([][]float64, len(slots)),
	}

	logger := log.Ctx(ctx)
	for i, s := range samples {
		if s.Timestamp.IsZero() {
			b.Malformed++
			logger.DebugContext(ctx, "dropping sample without timestamp",
				slog.Int("index", i),
				slog.String("series", s.Series),
			)
			continue
		}
		ts := s.Timestamp
		if loc != nil {
			ts = ts.In(loc)
		}
		idx := b.Index(ts)
		b.Values[idx] = append(b.Values[idx], s.Value)
	}

	if b.Malformed > 0 {
		logger.WarnContext(ctx, "dropped malformed samples while bucketing",
			slog.Int("malformed", b.Malformed),
			slog.Int("samples", len(samples)),
		)
	}

	return b, nil
}
