// Package estimator runs clear-sky estimates over the loaded samples and
// reports each result to a callback.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
	"pv_clearsky/internal/solar"
	"pv_clearsky/internal/store"
)

// ErrSelection wraps errors from resolving a request's selection.
var ErrSelection = errors.New("selecting samples")

// Request describes one estimate. A nil Selection uses the engine's
// selection; unset overrides keep the engine defaults.
type Request struct {
	Selection *store.Selection
	Overrides Overrides
}

// Overrides replaces individual pipeline parameters.
type Overrides struct {
	Granularity *int
	Window      *int
	Order       *int
}

// Apply returns p with the set overrides applied.
func (o Overrides) Apply(p clearsky.Params) clearsky.Params {
	if o.Granularity != nil {
		p.Granularity = *o.Granularity
	}
	if o.Window != nil {
		p.Window = *o.Window
	}
	if o.Order != nil {
		p.Order = *o.Order
	}
	return p
}

// Estimate is a finished run together with the profile derived from its
// smoothed curve.
type Estimate struct {
	Result    clearsky.Result
	Profile   solar.Profile
	Selection store.Selection
}

// Callback receives finished estimates.
type Callback interface {
	OnEstimate(e Estimate)
}

// Engine computes estimates from a store.
type Engine struct {
	mu       sync.Mutex
	store    *store.Store
	callback Callback
	observer clearsky.Observer

	defaults  clearsky.Params
	selection store.Selection
	last      *Estimate
}

// New returns an engine over s. obs and cb may be nil.
func New(s *store.Store, defaults clearsky.Params, obs clearsky.Observer, cb Callback) *Engine {
	return &Engine{
		store:     s,
		callback:  cb,
		observer:  obs,
		defaults:  defaults,
		selection: store.AllDay(),
	}
}

// Init reports whether the store holds any samples.
func (e *Engine) Init() bool {
	_, ok := e.store.GlobalTimeRange()
	return ok
}

func (e *Engine) Series() []model.Series {
	return e.store.Series()
}

// SampleCount returns the number of samples loaded for a series.
func (e *Engine) SampleCount(seriesID string) int {
	return e.store.SampleCount(seriesID)
}

// TimeRange returns the span of all loaded samples.
func (e *Engine) TimeRange() model.TimeRange {
	tr, _ := e.store.GlobalTimeRange()
	return tr
}

func (e *Engine) Defaults() clearsky.Params {
	return e.defaults
}

// Selection returns the selection used when a request leaves it empty.
func (e *Engine) Selection() store.Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

func (e *Engine) SetSelection(sel store.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selection = sel
	return nil
}

// Last returns the most recent successful estimate.
func (e *Engine) Last() (Estimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Estimate{}, false
	}
	return *e.last, true
}

// Estimate selects samples from the store and runs the pipeline over them.
func (e *Engine) Estimate(ctx context.Context, req Request) (Estimate, error) {
	sel := e.Selection()
	if req.Selection != nil {
		sel = *req.Selection
	}
	params := req.Overrides.Apply(e.defaults)
	if sel.Location == nil {
		sel.Location = params.Location
	}

	samples, err := e.store.Select(sel)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %w", ErrSelection, err)
	}

	ctx = log.With(ctx, log.Ctx(ctx).With(
		slog.String("series", strings.Join(sel.Series, ",")),
		slog.Int("hour_from", sel.HourFrom),
		slog.Int("hour_to", sel.HourTo),
	))
	return e.run(ctx, params, sel, samples)
}

// EstimateSamples runs the pipeline over samples supplied by the caller
// instead of the store.
func (e *Engine) EstimateSamples(ctx context.Context, o Overrides, samples []model.Sample) (Estimate, error) {
	return e.run(ctx, o.Apply(e.defaults), store.Selection{}, samples)
}

func (e *Engine) run(ctx context.Context, params clearsky.Params, sel store.Selection, samples []model.Sample) (Estimate, error) {
	p, err := clearsky.New(params, e.observer)
	if err != nil {
		if e.observer != nil {
			e.observer.ObserveRun(clearsky.Result{Params: params}, 0, err)
		}
		return Estimate{}, err
	}

	res, err := p.Run(ctx, samples)
	if err != nil {
		return Estimate{}, err
	}

	profile, err := solar.ProfileFromCurve(res.Smoothed, p.Params().Granularity)
	if err != nil {
		return Estimate{}, fmt.Errorf("building profile: %w", err)
	}

	est := Estimate{Result: res, Profile: profile, Selection: sel}
	e.mu.Lock()
	e.last = &est
	e.mu.Unlock()

	if e.callback != nil {
		e.callback.OnEstimate(est)
	}
	return est, nil
}

// DateLayouts are accepted for request date bounds.
var DateLayouts = []string{time.DateOnly, time.RFC3339}

// ParseDate parses a request date bound in loc (UTC when nil). Empty input
// yields the zero time.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range DateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC 3339", s)
}
