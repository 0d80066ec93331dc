package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/export"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
	"pv_clearsky/internal/ws"
)

// maxBodyBytes bounds POST /api/curve request bodies.
const maxBodyBytes = 32 << 20

type Server struct {
	engine *estimator.Engine
}

type seriesResponse struct {
	Series    []ws.SeriesInfo  `json:"series"`
	TimeRange ws.TimeRangeInfo `json:"time_range"`
}

// SampleInput is one ad-hoc sample posted to /api/curve. Value is a JSON
// number or a numeric string.
type SampleInput struct {
	Series    string          `json:"series,omitempty"`
	Timestamp string          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Sample converts the input. Errors are *clearsky.SampleError.
func (in SampleInput) Sample(loc *time.Location) (model.Sample, error) {
	value := string(in.Value)
	var s string
	if err := json.Unmarshal(in.Value, &s); err == nil {
		value = s
	}
	return clearsky.ParseSample(in.Series, in.Timestamp, value, loc)
}

// CurveRequest is the body of POST /api/curve.
type CurveRequest struct {
	Samples     []SampleInput `json:"samples"`
	Granularity *int          `json:"granularity,omitempty"`
	Window      *int          `json:"window,omitempty"`
	Order       *int          `json:"order,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"series": len(s.engine.Series()),
	})
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	tr := s.engine.TimeRange()
	resp := seriesResponse{
		Series: ws.SeriesFromModel(s.engine.Series(), s.engine.SampleCount),
	}
	if !tr.Start.IsZero() {
		resp.TimeRange = ws.TimeRangeInfo{
			Start: tr.Start.Format(time.RFC3339),
			End:   tr.End.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getCurve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := s.requestFromQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	est, err := s.engine.Estimate(r.Context(), req)
	if err != nil {
		s.writeEstimateError(w, r, err)
		return
	}
	s.writeEstimate(w, r, q.Get("format"), est)
}

func (s *Server) postCurve(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	defer r.Body.Close()

	var req CurveRequest
	if err := json.Unmarshal(b, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx := r.Context()
	loc := s.engine.Defaults().Location
	samples := make([]model.Sample, 0, len(req.Samples))
	for i, in := range req.Samples {
		sample, err := in.Sample(loc)
		if err != nil {
			// A zero-time sample is dropped and counted as malformed by the
			// pipeline.
			log.Ctx(ctx).DebugContext(ctx, "dropping malformed sample",
				slog.Int("index", i), slog.Any("error", err))
			sample = model.Sample{Series: in.Series}
		}
		samples = append(samples, sample)
	}

	o := estimator.Overrides{Granularity: req.Granularity, Window: req.Window, Order: req.Order}
	est, err := s.engine.EstimateSamples(ctx, o, samples)
	if err != nil {
		s.writeEstimateError(w, r, err)
		return
	}
	s.writeEstimate(w, r, r.URL.Query().Get("format"), est)
}

func (s *Server) latestCurve(w http.ResponseWriter, r *http.Request) {
	est, ok := s.engine.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no curve computed yet")
		return
	}
	s.writeEstimate(w, r, r.URL.Query().Get("format"), est)
}

func (s *Server) writeEstimate(w http.ResponseWriter, r *http.Request, format string, est estimator.Estimate) {
	table, err := export.FromResult(est.Result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, ws.CurveResultFromEstimate(est))
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="clearsky.csv"`)
		if err := export.WriteCSV(w, table); err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "writing csv", slog.Any("error", err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="clearsky.xlsx"`)
		if err := export.WriteXLSX(w, table); err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "writing xlsx", slog.Any("error", err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) writeEstimateError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, clearsky.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, estimator.ErrSelection):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "estimating curve", slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

// requestFromQuery reads the selection and parameter overrides of GET
// /api/curve. Without selection parameters the engine's selection is used.
func (s *Server) requestFromQuery(q url.Values) (estimator.Request, error) {
	var req estimator.Request
	var err error

	if req.Overrides.Granularity, err = optionalInt(q, "granularity"); err != nil {
		return req, err
	}
	if req.Overrides.Window, err = optionalInt(q, "window"); err != nil {
		return req, err
	}
	if req.Overrides.Order, err = optionalInt(q, "order"); err != nil {
		return req, err
	}

	if !q.Has("series") && !q.Has("from") && !q.Has("to") && !q.Has("hour_from") && !q.Has("hour_to") {
		return req, nil
	}

	p := ws.SelectionPayload{From: q.Get("from"), To: q.Get("to")}
	if series := q.Get("series"); series != "" {
		p.Series = strings.Split(series, ",")
	}
	if p.HourFrom, err = optionalInt(q, "hour_from"); err != nil {
		return req, err
	}
	if p.HourTo, err = optionalInt(q, "hour_to"); err != nil {
		return req, err
	}

	sel, err := p.Selection(s.engine.Defaults().Location)
	if err != nil {
		return req, err
	}
	req.Selection = &sel
	return req, nil
}

func optionalInt(q url.Values, key string) (*int, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, v)
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
