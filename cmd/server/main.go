package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"pv_clearsky/internal/api"
	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/ingest"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/metrics"
	"pv_clearsky/internal/store"
	"pv_clearsky/internal/ws"
)

type config struct {
	inputDir    string
	frontendDir string
	addr        string
	warm        bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	inputDir := lflag.String("input-dir", "input", "Directory containing PV power exports (.csv, .xlsx, optionally .sz)")
	frontendDir := lflag.String("frontend-dir", "frontend/build", "Directory containing the frontend build")
	addr := lflag.String("addr", ":8080", "Listen address")
	warm := lflag.Bool("warm", true, "Compute a curve over all loaded samples at startup")
	opts := ingest.Configured()
	params := clearsky.Configured()

	lflag.Configure()
	if err := log.Configure(); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config{inputDir: *inputDir, frontendDir: *frontendDir, addr: *addr, warm: *warm}
	if err := run(ctx, cfg, *opts, *params); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

func run(ctx context.Context, cfg config, opts ingest.Options, params clearsky.Params) error {
	dataStore, err := loadStore(ctx, cfg.inputDir, opts)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := ws.NewHub()
	hub.SetGauge(m)
	engine := estimator.New(dataStore, params, m, ws.NewBridge(hub))
	if !engine.Init() {
		return errors.New("no samples loaded")
	}

	if cfg.warm {
		est, err := engine.Estimate(ctx, estimator.Request{})
		if err != nil {
			return fmt.Errorf("computing initial curve: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "initial curve computed",
			slog.String("run_id", est.Result.RunID),
			slog.Float64("peak_w", est.Profile.PeakW),
			slog.Float64("energy_wh", est.Profile.EnergyWh),
		)
	}

	router := newRouter(engine, m, hub, cfg.frontendDir)
	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", cfg.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// newRouter mounts the API and, when the directory exists, the frontend.
func newRouter(engine *estimator.Engine, m *metrics.Metrics, hub *ws.Hub, frontendDir string) *mux.Router {
	router := api.NewRouter(engine, m, ws.NewHandler(hub, engine))
	if frontendDir == "" {
		return router
	}
	if _, err := os.Stat(frontendDir); err == nil {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(frontendDir)))
	}
	return router
}

// loadStore loads every input file in dir into a new store.
func loadStore(ctx context.Context, dir string, opts ingest.Options) (*store.Store, error) {
	batch, err := ingest.LoadDir(ctx, dir, opts)
	if err != nil {
		return nil, fmt.Errorf("loading input: %w", err)
	}

	s := store.New()
	s.AddSamples(batch.Samples)

	tr, ok := s.GlobalTimeRange()
	if !ok {
		return nil, fmt.Errorf("no samples found in %s", dir)
	}
	log.Ctx(ctx).InfoContext(ctx, "data loaded",
		slog.Int("samples", len(batch.Samples)),
		slog.Int("malformed", batch.Malformed),
		slog.Int("series", len(s.Series())),
		slog.String("start", tr.Start.Format(time.DateOnly)),
		slog.String("end", tr.End.Format(time.DateOnly)),
	)
	return s, nil
}
