package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pv_clearsky/internal/model"
)

// Store holds power samples in memory, indexed by series ID.
type Store struct {
	mu      sync.RWMutex
	series  map[string]model.Series
	samples map[string][]model.Sample // keyed by series ID, sorted by timestamp
}

func New() *Store {
	return &Store{
		series:  make(map[string]model.Series),
		samples: make(map[string][]model.Sample),
	}
}

// AddSeries registers or replaces a series description.
func (s *Store) AddSeries(series model.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series.ID] = series
}

// AddSamples adds samples, then sorts each affected series by timestamp.
// Samples with equal timestamps keep their insertion order. Series seen for
// the first time are registered under their ID.
func (s *Store) AddSamples(samples []model.Sample) {
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, sm := range samples {
		s.samples[sm.Series] = append(s.samples[sm.Series], sm)
		seen[sm.Series] = true
	}

	for id := range seen {
		if _, ok := s.series[id]; !ok {
			s.series[id] = model.Series{ID: id, Name: id, Unit: "W"}
		}
		all := s.samples[id]
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Timestamp.Before(all[j].Timestamp)
		})
	}
}

// Series returns all registered series ordered by ID.
func (s *Store) Series() []model.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Series, 0, len(s.series))
	for _, series := range s.series {
		out = append(out, series)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasSeries reports whether id is registered.
func (s *Store) HasSeries(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.series[id]
	return ok
}

// SampleCount returns the number of samples held for a series.
func (s *Store) SampleCount(seriesID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[seriesID])
}

// TimeRange returns the time range covered by a series.
func (s *Store) TimeRange(seriesID string) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.samples[seriesID]
	if len(samples) == 0 {
		return model.TimeRange{}, false
	}

	return model.TimeRange{
		Start: samples[0].Timestamp,
		End:   samples[len(samples)-1].Timestamp,
	}, true
}

// GlobalTimeRange returns the union of all series' time ranges.
func (s *Store) GlobalTimeRange() (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end time.Time
	first := true

	for _, samples := range s.samples {
		if len(samples) == 0 {
			continue
		}
		sStart := samples[0].Timestamp
		sEnd := samples[len(samples)-1].Timestamp

		if first || sStart.Before(start) {
			start = sStart
		}
		if first || sEnd.After(end) {
			end = sEnd
		}
		first = false
	}

	if first {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// SamplesInRange returns samples for a series between start (inclusive) and end (exclusive).
func (s *Store) SamplesInRange(seriesID string, start, end time.Time) []model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return inRange(s.samples[seriesID], start, end)
}

func inRange(all []model.Sample, start, end time.Time) []model.Sample {
	if len(all) == 0 {
		return nil
	}

	startIdx := 0
	if !start.IsZero() {
		startIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(start)
		})
	}

	endIdx := len(all)
	if !end.IsZero() {
		endIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(end)
		})
	}

	if startIdx >= endIdx {
		return nil
	}

	result := make([]model.Sample, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// Selection narrows the samples fed to a clear-sky run.
type Selection struct {
	// Series lists the series to include; empty selects all.
	Series []string
	// From and To bound the calendar range [From, To). Zero values leave
	// that side open.
	From time.Time
	To   time.Time
	// HourFrom and HourTo bound the hour of day, both inclusive.
	HourFrom int
	HourTo   int
	// Location is the zone the hour of day is read in; nil keeps each
	// sample's own zone.
	Location *time.Location
}

// AllDay selects every sample of every series.
func AllDay() Selection {
	return Selection{HourFrom: 0, HourTo: 23}
}

func (sel Selection) Validate() error {
	if sel.HourFrom < 0 || sel.HourFrom > 23 || sel.HourTo < 0 || sel.HourTo > 23 {
		return fmt.Errorf("hour range %d..%d outside 0..23", sel.HourFrom, sel.HourTo)
	}
	if sel.HourFrom > sel.HourTo {
		return fmt.Errorf("hour range %d..%d is inverted", sel.HourFrom, sel.HourTo)
	}
	if !sel.From.IsZero() && !sel.To.IsZero() && !sel.From.Before(sel.To) {
		return fmt.Errorf("date range %s..%s is empty", sel.From.Format(time.DateOnly), sel.To.Format(time.DateOnly))
	}
	return nil
}

func (sel Selection) hourOK(t time.Time) bool {
	if sel.Location != nil {
		t = t.In(sel.Location)
	}
	h := t.Hour()
	return h >= sel.HourFrom && h <= sel.HourTo
}

// Select returns the samples matching sel, series by series in ID order and
// by timestamp within a series.
func (s *Store) Select(sel Selection) ([]model.Sample, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	ids := sel.Series
	if len(ids) == 0 {
		for _, series := range s.Series() {
			ids = append(ids, series.ID)
		}
	}

	var out []model.Sample
	for _, id := range ids {
		if !s.HasSeries(id) {
			return nil, fmt.Errorf("unknown series %q", id)
		}
		for _, sm := range s.SamplesInRange(id, sel.From, sel.To) {
			if sel.hourOK(sm.Timestamp) {
				out = append(out, sm)
			}
		}
	}
	return out, nil
}
