package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/model"
	"pv_clearsky/internal/store"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> Server messages

// SelectionPayload narrows the samples of an estimate. Dates are
// YYYY-MM-DD or RFC 3339; To is exclusive. Nil hours mean 0 and 23.
type SelectionPayload struct {
	Series   []string `json:"series,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	HourFrom *int     `json:"hour_from,omitempty"`
	HourTo   *int     `json:"hour_to,omitempty"`
}

// ComputePayload requests an estimate. A nil Selection uses the server's
// current selection; omitted parameters use the server defaults.
type ComputePayload struct {
	Selection   *SelectionPayload `json:"selection,omitempty"`
	Granularity *int              `json:"granularity,omitempty"`
	Window      *int              `json:"window,omitempty"`
	Order       *int              `json:"order,omitempty"`
}

// Server -> Client messages

type CurveResultPayload struct {
	RunID       string    `json:"run_id"`
	Granularity int       `json:"granularity"`
	Window      int       `json:"window"`
	Order       int       `json:"order"`
	Slots       []string  `json:"slots"`
	Raw         []float64 `json:"raw"`
	Smoothed    []float64 `json:"smoothed"`
	Samples     int       `json:"samples"`
	Malformed   int       `json:"malformed"`
	EmptySlots  int       `json:"empty_slots"`
	Outliers    int       `json:"outliers"`
	PeakSlot    string    `json:"peak_slot,omitempty"`
	PeakW       float64   `json:"peak_w"`
	EnergyWh    float64   `json:"energy_wh"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	// Invalid is set when the request parameters were rejected.
	Invalid bool `json:"invalid"`
}

type SeriesInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Unit    string `json:"unit"`
	Samples int    `json:"samples"`
}

type TimeRangeInfo struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SelectionInfo struct {
	Series   []string `json:"series,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	HourFrom int      `json:"hour_from"`
	HourTo   int      `json:"hour_to"`
}

type DefaultsInfo struct {
	Granularity int `json:"granularity"`
	Window      int `json:"window"`
	Order       int `json:"order"`
}

type DataLoadedPayload struct {
	Series    []SeriesInfo  `json:"series"`
	TimeRange TimeRangeInfo `json:"time_range"`
	Selection SelectionInfo `json:"selection"`
	Defaults  DefaultsInfo  `json:"defaults"`
}

// Message type constants
const (
	// Client -> Server
	TypeCurveCompute = "curve:compute"
	TypeSelectionSet = "selection:set"

	// Server -> Client
	TypeCurveResult = "curve:result"
	TypeCurveError  = "curve:error"
	TypeDataLoaded  = "data:loaded"
)

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Selection converts the payload into a store selection.
func (p SelectionPayload) Selection(loc *time.Location) (store.Selection, error) {
	sel := store.AllDay()
	sel.Series = p.Series
	sel.Location = loc
	if p.HourFrom != nil {
		sel.HourFrom = *p.HourFrom
	}
	if p.HourTo != nil {
		sel.HourTo = *p.HourTo
	}

	var err error
	if sel.From, err = estimator.ParseDate(p.From, loc); err != nil {
		return store.Selection{}, err
	}
	if sel.To, err = estimator.ParseDate(p.To, loc); err != nil {
		return store.Selection{}, err
	}
	if err := sel.Validate(); err != nil {
		return store.Selection{}, err
	}
	return sel, nil
}

// Request converts the payload into an estimator request.
func (p ComputePayload) Request(loc *time.Location) (estimator.Request, error) {
	req := estimator.Request{
		Overrides: estimator.Overrides{
			Granularity: p.Granularity,
			Window:      p.Window,
			Order:       p.Order,
		},
	}
	if p.Selection != nil {
		sel, err := p.Selection.Selection(loc)
		if err != nil {
			return estimator.Request{}, fmt.Errorf("invalid selection: %w", err)
		}
		req.Selection = &sel
	}
	return req, nil
}

func CurveResultFromEstimate(e estimator.Estimate) CurveResultPayload {
	res := e.Result
	slots := make([]string, len(res.Slots))
	for i, s := range res.Slots {
		slots[i] = s.String()
	}

	p := CurveResultPayload{
		RunID:       res.RunID,
		Granularity: res.Params.Granularity,
		Window:      res.Params.Window,
		Order:       res.Params.Order,
		Slots:       slots,
		Raw:         res.Raw,
		Smoothed:    res.Smoothed,
		Samples:     res.Samples,
		Malformed:   res.Malformed,
		EmptySlots:  res.Stats.EmptySlots,
		Outliers:    res.Stats.Outliers,
		PeakW:       e.Profile.PeakW,
		EnergyWh:    e.Profile.EnergyWh,
	}
	if e.Profile.PeakIndex >= 0 {
		p.PeakSlot = slots[e.Profile.PeakIndex]
	}
	return p
}

func SeriesFromModel(series []model.Series, count func(id string) int) []SeriesInfo {
	out := make([]SeriesInfo, 0, len(series))
	for _, s := range series {
		out = append(out, SeriesInfo{
			ID:      s.ID,
			Name:    s.Name,
			Unit:    s.Unit,
			Samples: count(s.ID),
		})
	}
	return out
}

func SelectionFromStore(sel store.Selection) SelectionInfo {
	info := SelectionInfo{
		Series:   sel.Series,
		HourFrom: sel.HourFrom,
		HourTo:   sel.HourTo,
	}
	if !sel.From.IsZero() {
		info.From = sel.From.Format(time.RFC3339)
	}
	if !sel.To.IsZero() {
		info.To = sel.To.Format(time.RFC3339)
	}
	return info
}
