package estimator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
	"pv_clearsky/internal/store"
)

type mockCallback struct {
	mu        sync.Mutex
	estimates []Estimate
}

func (m *mockCallback) OnEstimate(e Estimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates = append(m.estimates, e)
}

type mockObserver struct {
	errs []error
}

func (m *mockObserver) ObserveRun(_ clearsky.Result, _ time.Duration, err error) {
	m.errs = append(m.errs, err)
}

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// testStore holds three days of hourly samples: noon reads 500, 520 and 10,
// every other hour reads 100.
func testStore() *store.Store {
	s := store.New()
	noon := []float64{500, 520, 10}
	for d := 0; d < 3; d++ {
		var samples []model.Sample
		for h := 0; h < 24; h++ {
			v := 100.0
			if h == 12 {
				v = noon[d]
			}
			samples = append(samples, model.Sample{
				Series:    "pv",
				Timestamp: day0.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Value:     v,
			})
		}
		s.AddSamples(samples)
	}
	return s
}

var hourly = clearsky.Params{Granularity: 60, Window: 1, Order: 0}

func TestEngine_Init(t *testing.T) {
	assert.False(t, New(store.New(), hourly, nil, nil).Init())
	assert.True(t, New(testStore(), hourly, nil, nil).Init())
}

func TestEngine_Estimate(t *testing.T) {
	cb := &mockCallback{}
	e := New(testStore(), hourly, nil, cb)

	est, err := e.Estimate(context.Background(), Request{})
	require.NoError(t, err)

	require.Len(t, est.Result.Raw, 24)
	assert.InDelta(t, 510.0, est.Result.Raw[12], 1e-9)
	assert.Zero(t, est.Result.Raw[3], "constant slots collapse to zero")
	assert.Equal(t, 12, est.Profile.PeakIndex)
	assert.Equal(t, 72, est.Result.Samples)

	require.Len(t, cb.estimates, 1)
	assert.Equal(t, est.Result.RunID, cb.estimates[0].Result.RunID)

	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, est.Result.RunID, last.Result.RunID)
}

func TestEngine_EstimateWithSelection(t *testing.T) {
	e := New(testStore(), hourly, nil, nil)

	sel := store.AllDay()
	sel.From = day0
	sel.To = day0.AddDate(0, 0, 2)
	est, err := e.Estimate(context.Background(), Request{Selection: &sel})
	require.NoError(t, err)

	// [500, 520]: mean 510, sigma 10, both inside 1.5 sigma, only 520 above the mean.
	assert.InDelta(t, 520.0, est.Result.Raw[12], 1e-9)
	assert.Equal(t, 48, est.Result.Samples)
}

func TestEngine_DefaultSelection(t *testing.T) {
	e := New(testStore(), hourly, nil, nil)
	require.NoError(t, e.SetSelection(store.Selection{HourFrom: 12, HourTo: 12}))

	est, err := e.Estimate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, est.Result.Samples)
	assert.Equal(t, 12, e.Selection().HourFrom)

	assert.Error(t, e.SetSelection(store.Selection{HourFrom: 5, HourTo: 4}))
}

func TestEngine_ParamsOverride(t *testing.T) {
	e := New(testStore(), clearsky.DefaultParams, nil, nil)

	est, err := e.Estimate(context.Background(), Request{Overrides: Overrides{Granularity: intPtr(30), Window: intPtr(5)}})
	require.NoError(t, err)
	assert.Len(t, est.Result.Smoothed, 48)
	assert.Equal(t, 5, est.Result.Params.Window)
	assert.Equal(t, clearsky.DefaultParams.Order, est.Result.Params.Order)
}

func TestEngine_InvalidParams(t *testing.T) {
	obs := &mockObserver{}
	cb := &mockCallback{}
	e := New(testStore(), clearsky.DefaultParams, obs, cb)

	_, err := e.Estimate(context.Background(), Request{Overrides: Overrides{Window: intPtr(4)}})
	assert.True(t, errors.Is(err, clearsky.ErrInvalidParameter))
	assert.Empty(t, cb.estimates)
	require.Len(t, obs.errs, 1)
	assert.True(t, errors.Is(obs.errs[0], clearsky.ErrInvalidParameter))

	_, ok := e.Last()
	assert.False(t, ok)
}

func TestEngine_UnknownSeries(t *testing.T) {
	e := New(testStore(), hourly, nil, nil)
	sel := store.AllDay()
	sel.Series = []string{"missing"}

	_, err := e.Estimate(context.Background(), Request{Selection: &sel})
	assert.ErrorIs(t, err, ErrSelection)
	assert.ErrorContains(t, err, `unknown series "missing"`)
}

func TestEngine_EstimateSamples(t *testing.T) {
	cb := &mockCallback{}
	e := New(store.New(), hourly, nil, cb)
	noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	samples := []model.Sample{
		{Timestamp: noon, Value: 500},
		{Timestamp: noon.AddDate(0, 0, 1), Value: 520},
		{Timestamp: noon.AddDate(0, 0, 2), Value: 10},
	}

	est, err := e.EstimateSamples(context.Background(), Overrides{}, samples)
	require.NoError(t, err)
	assert.InDelta(t, 510.0, est.Result.Smoothed[12], 1e-9)
	assert.Len(t, cb.estimates, 1)
}

func intPtr(v int) *int { return &v }

func TestOverrides_Apply(t *testing.T) {
	got := Overrides{Order: intPtr(0)}.Apply(clearsky.DefaultParams)
	assert.Equal(t, clearsky.Params{Granularity: 15, Window: 15, Order: 0}, got)

	assert.Equal(t, clearsky.DefaultParams, Overrides{}.Apply(clearsky.DefaultParams))

	got = Overrides{Granularity: intPtr(60), Window: intPtr(3)}.Apply(clearsky.DefaultParams)
	assert.Equal(t, 60, got.Granularity)
	assert.Equal(t, 3, got.Window)
	assert.Equal(t, 2, got.Order)
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-03-02", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-03-02T06:00:00+02:00", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.UTC().Hour())

	got, err = ParseDate("", nil)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseDate("02/03/2024", nil)
	assert.Error(t, err)
}
