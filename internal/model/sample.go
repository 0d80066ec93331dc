package model

import (
	"fmt"
	"time"
)

// Sample is a single instantaneous power reading.
type Sample struct {
	Series    string
	Timestamp time.Time
	Value     float64
}

// Series describes one power log, e.g. a Home Assistant entity or an
// imported plant export.
type Series struct {
	ID   string
	Name string
	Unit string
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Slot is one time of day, shared by every observed day.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// SlotAggregate is the representative power of one slot. Value is 0 when
// the slot had no usable samples.
type SlotAggregate struct {
	Slot  Slot
	Value float64
}

// Curve holds one value per slot, in ascending slot order.
type Curve []float64

// Values extracts the curve from a slot-ordered aggregate list.
func Values(aggs []SlotAggregate) Curve {
	c := make(Curve, len(aggs))
	for i, a := range aggs {
		c[i] = a.Value
	}
	return c
}

// Peak returns the index and value of the curve maximum. Index is -1 for an
// empty curve.
func (c Curve) Peak() (int, float64) {
	idx, peak := -1, 0.0
	for i, v := range c {
		if idx < 0 || v > peak {
			idx, peak = i, v
		}
	}
	return idx, peak
}
