// Package api serves clear-sky estimates over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/metrics"
)

// NewRouter wires the REST routes, the metrics endpoint and, when ws is not
// nil, the websocket endpoint. m may be nil.
func NewRouter(engine *estimator.Engine, m *metrics.Metrics, ws http.Handler) *mux.Router {
	s := &Server{engine: engine}
	r := mux.NewRouter()

	handle := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, m.WrapHandler(path, h)).Methods(methods...)
	}

	handle("/health", s.health, http.MethodGet)
	handle("/api/series", s.listSeries, http.MethodGet)
	handle("/api/curve", s.getCurve, http.MethodGet)
	handle("/api/curve", s.postCurve, http.MethodPost)
	handle("/api/curve/latest", s.latestCurve, http.MethodGet)

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}
