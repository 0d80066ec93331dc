package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pv_clearsky/internal/store"
)

func TestSelectionPayload_Selection(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	p := SelectionPayload{
		Series:   []string{"pv"},
		From:     "2024-03-01",
		To:       "2024-04-01",
		HourFrom: intPtr(6),
	}

	sel, err := p.Selection(loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"pv"}, sel.Series)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), sel.From)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, loc), sel.To)
	assert.Equal(t, 6, sel.HourFrom)
	assert.Equal(t, 23, sel.HourTo)
	assert.Equal(t, loc, sel.Location)
}

func TestSelectionPayload_Invalid(t *testing.T) {
	for _, p := range []SelectionPayload{
		{From: "March"},
		{To: "2024-13-01"},
		{HourTo: intPtr(24)},
		{From: "2024-03-02", To: "2024-03-01"},
	} {
		_, err := p.Selection(nil)
		assert.Error(t, err, "%+v", p)
	}
}

func TestComputePayload_Request(t *testing.T) {
	req, err := ComputePayload{Granularity: intPtr(30), Window: intPtr(5), Order: intPtr(0)}.Request(nil)
	require.NoError(t, err)
	assert.Nil(t, req.Selection)
	assert.Equal(t, 30, *req.Overrides.Granularity)
	assert.Equal(t, 5, *req.Overrides.Window)
	assert.Equal(t, 0, *req.Overrides.Order)

	req, err = ComputePayload{Selection: &SelectionPayload{HourFrom: intPtr(8)}}.Request(nil)
	require.NoError(t, err)
	require.NotNil(t, req.Selection)
	assert.Equal(t, 8, req.Selection.HourFrom)

	_, err = ComputePayload{Selection: &SelectionPayload{From: "x"}}.Request(nil)
	assert.ErrorContains(t, err, "invalid selection")
}

func TestSelectionFromStore(t *testing.T) {
	sel := store.AllDay()
	assert.Equal(t, SelectionInfo{HourTo: 23}, SelectionFromStore(sel))

	sel.From = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	info := SelectionFromStore(sel)
	assert.Equal(t, "2024-03-01T00:00:00Z", info.From)
	assert.Empty(t, info.To)
}
