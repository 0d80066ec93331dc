package solar

import (
	"fmt"
	"math"

	"pv_clearsky/internal/model"
)

// Profile is the normalized generation shape of a clear-sky curve.
type Profile struct {
	// Granularity is the slot width in minutes.
	Granularity int
	// Factor holds the normalized capacity factor per slot, peak = 1.0.
	// Negative curve values count as zero.
	Factor []float64
	// PeakIndex is the slot with the highest power, -1 for a dark curve.
	PeakIndex int
	// PeakW is the power at PeakIndex.
	PeakW float64
	// EnergyWh is the daily energy under the curve.
	EnergyWh float64
	// FirstLight and LastLight are the first and last slots producing
	// power, -1 for a dark curve.
	FirstLight int
	LastLight  int
}

// ProfileFromCurve derives a profile from a slot-ordered curve.
func ProfileFromCurve(curve model.Curve, granularity int) (Profile, error) {
	if granularity <= 0 || len(curve)*granularity != 24*60 {
		return Profile{}, fmt.Errorf("curve of %d slots does not cover a day at %d minute slots", len(curve), granularity)
	}

	p := Profile{
		Granularity: granularity,
		Factor:      make([]float64, len(curve)),
		PeakIndex:   -1,
		FirstLight:  -1,
		LastLight:   -1,
	}

	hours := float64(granularity) / 60
	for i, v := range curve {
		if v <= 0 || math.IsNaN(v) {
			continue
		}
		p.Factor[i] = v
		p.EnergyWh += v * hours
		if p.FirstLight < 0 {
			p.FirstLight = i
		}
		p.LastLight = i
		if v > p.PeakW {
			p.PeakW = v
			p.PeakIndex = i
		}
	}

	// Normalize to peak = 1.0
	if p.PeakW > 0 {
		for i := range p.Factor {
			p.Factor[i] /= p.PeakW
		}
	}

	return p, nil
}

// slotHour returns the fractional hour at which slot i starts.
func (p *Profile) slotHour(i int) float64 {
	return float64(i*p.Granularity) / 60
}

// PeakHour returns the fractional hour of the peak slot, -1 for a dark curve.
func (p *Profile) PeakHour() float64 {
	if p.PeakIndex < 0 {
		return -1
	}
	return p.slotHour(p.PeakIndex)
}

// Slot returns the time of day of slot i.
func (p *Profile) Slot(i int) model.Slot {
	m := i * p.Granularity
	return model.Slot{Hour: m / 60, Minute: m % 60}
}

// PowerAt returns estimated power in watts for the given fractional hour,
// scaled so the profile peak equals peakW. A peakW of 0 uses the measured
// peak.
func (p *Profile) PowerAt(hour float64, peakW float64) float64 {
	if peakW == 0 {
		peakW = p.PeakW
	}
	factor := p.factorAt(hour)
	if factor < 0 {
		return 0
	}
	return factor * peakW
}

// factorAt linearly interpolates the factor at a fractional hour. The day
// wraps, so the last slot blends into midnight.
func (p *Profile) factorAt(hour float64) float64 {
	n := len(p.Factor)
	if n == 0 {
		return 0
	}
	for hour < 0 {
		hour += 24
	}
	for hour >= 24 {
		hour -= 24
	}

	pos := hour * 60 / float64(p.Granularity)
	lo := int(math.Floor(pos)) % n
	hi := (lo + 1) % n
	frac := pos - math.Floor(pos)

	return p.Factor[lo]*(1-frac) + p.Factor[hi]*frac
}

// Reorient estimates the profile of the same plant with panels facing a
// different direction. East peaks around 10:00, south around 12:00 and
// west around 14:00, so the shape shifts by one hour per 45 degrees of
// azimuth. Tilt widens or narrows the curve around a 40 degree reference.
//
// azimuthDeg: panel azimuth (0=N, 90=E, 180=S, 270=W)
// tiltDeg: panel tilt from horizontal (0=flat, 90=vertical wall)
// baseAzimuth: the azimuth the measured curve was produced at
func (p *Profile) Reorient(azimuthDeg, tiltDeg, baseAzimuth float64) Profile {
	shiftHours := (azimuthDeg - baseAzimuth) / 45.0

	tiltWidthFactor := 1.0
	if tiltDeg > 40 {
		tiltWidthFactor = 1.0 - (tiltDeg-40)/200.0
	} else if tiltDeg < 40 {
		tiltWidthFactor = 1.0 + (40-tiltDeg)/200.0
	}
	tiltWidthFactor = math.Max(0.5, math.Min(1.5, tiltWidthFactor))

	// Extreme tilts lose output.
	tiltEfficiency := math.Max(0.5, math.Cos((tiltDeg-35)*math.Pi/180))

	result := Profile{
		Granularity: p.Granularity,
		Factor:      make([]float64, len(p.Factor)),
		PeakIndex:   -1,
		FirstLight:  -1,
		LastLight:   -1,
	}
	if p.PeakIndex < 0 {
		return result
	}

	peakHour := p.PeakHour()
	var maxFactor float64
	for i := range result.Factor {
		srcHour := p.slotHour(i) - shiftHours
		adjustedSrcHour := peakHour + (srcHour-peakHour)/tiltWidthFactor

		factor := p.factorAt(adjustedSrcHour) * tiltEfficiency
		if factor < 0 {
			factor = 0
		}
		result.Factor[i] = factor
		if factor > maxFactor {
			maxFactor = factor
			result.PeakIndex = i
		}
	}

	if maxFactor == 0 {
		clear(result.Factor)
		result.PeakIndex = -1
		return result
	}

	// Re-normalize so peak = 1.0 and carry the measured peak power over.
	hours := float64(p.Granularity) / 60
	for i := range result.Factor {
		result.Factor[i] /= maxFactor
		if result.Factor[i] > 0 {
			if result.FirstLight < 0 {
				result.FirstLight = i
			}
			result.LastLight = i
		}
		result.EnergyWh += result.Factor[i] * p.PeakW * hours
	}
	result.PeakW = p.PeakW

	return result
}
