package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/export"
	"pv_clearsky/internal/ingest"
	"pv_clearsky/internal/log"
	"pv_clearsky/internal/model"
	"pv_clearsky/internal/solar"
	"pv_clearsky/internal/store"
)

const (
	sourceFiles  = "files"
	sourceInflux = "influx"
)

type influxConfig struct {
	url         string
	token       string
	org         string
	bucket      string
	measurement string
	field       string
	tags        string
}

type reorientConfig struct {
	enabled     bool
	azimuth     float64
	tilt        float64
	baseAzimuth float64
}

type config struct {
	source   string
	inputs   []string
	series   []string
	from     string
	to       string
	hourFrom int
	hourTo   int
	out      string
	influx   influxConfig
	reorient reorientConfig
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	source := lflag.String("source", sourceFiles, "Sample source: files or influx")
	input := lflag.String("input", "input", "Comma separated input files or directories")
	series := lflag.String("select-series", "", "Comma separated series ids to estimate from (empty uses all)")
	from := lflag.String("from", "", "First day included, YYYY-MM-DD or RFC 3339")
	to := lflag.String("to", "", "First day excluded, YYYY-MM-DD or RFC 3339")
	hourFrom := lflag.Int("hour-from", 0, "First hour of day included (0-23)")
	hourTo := lflag.Int("hour-to", 23, "Last hour of day included (0-23)")
	out := lflag.String("out", "", "Write the curve to this .csv, .csv.sz or .xlsx file")
	influxURL := lflag.String("influx-url", "", "InfluxDB URL (overrides INFLUX_URL)")
	influxToken := lflag.String("influx-token", "", "InfluxDB token (overrides INFLUX_TOKEN)")
	influxOrg := lflag.String("influx-org", "", "InfluxDB organization (overrides INFLUX_ORG)")
	influxBucket := lflag.String("influx-bucket", "", "InfluxDB bucket (overrides INFLUX_BUCKET)")
	influxMeasurement := lflag.String("influx-measurement", "pv", "InfluxDB measurement holding PV power")
	influxField := lflag.String("influx-field", "power", "InfluxDB field holding PV power in W")
	influxTags := lflag.String("influx-tags", "", "Comma separated key=value tag filters")
	azimuth := lflag.String("reorient-azimuth", "", "Also print the profile for panels at this azimuth (0=N, 90=E, 180=S, 270=W)")
	tilt := lflag.Int("reorient-tilt", 35, "Panel tilt in degrees for --reorient-azimuth")
	baseAzimuth := lflag.Int("base-azimuth", 180, "Azimuth of the measured plant")
	opts := ingest.Configured()
	params := clearsky.Configured()

	lflag.Configure()
	if err := log.Configure(); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config{
		source:   *source,
		inputs:   splitList(*input),
		series:   splitList(*series),
		from:     *from,
		to:       *to,
		hourFrom: *hourFrom,
		hourTo:   *hourTo,
		out:      *out,
		influx: influxConfig{
			url:         resolveFlag(*influxURL, "INFLUX_URL"),
			token:       resolveFlag(*influxToken, "INFLUX_TOKEN"),
			org:         resolveFlag(*influxOrg, "INFLUX_ORG"),
			bucket:      resolveFlag(*influxBucket, "INFLUX_BUCKET"),
			measurement: *influxMeasurement,
			field:       *influxField,
			tags:        *influxTags,
		},
		reorient: reorientConfig{
			tilt:        float64(*tilt),
			baseAzimuth: float64(*baseAzimuth),
		},
	}
	if *azimuth != "" {
		var err error
		cfg.reorient.azimuth, err = parseAzimuth(*azimuth)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg.reorient.enabled = true
	}

	if err := run(ctx, cfg, *opts, *params, os.Stdout); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "estimate failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, opts ingest.Options, params clearsky.Params, w io.Writer) error {
	loc := params.Location
	if loc == nil {
		loc = opts.Location
	}
	sel, err := buildSelection(cfg, loc)
	if err != nil {
		return err
	}

	var batch ingest.Batch
	switch cfg.source {
	case sourceFiles:
		batch, err = loadInputs(ctx, cfg.inputs, opts)
	case sourceInflux:
		batch, err = fetchInflux(ctx, cfg.influx, sel)
	default:
		err = fmt.Errorf("unknown source %q", cfg.source)
	}
	if err != nil {
		return err
	}

	s := store.New()
	s.AddSamples(batch.Samples)

	engine := estimator.New(s, params, nil, nil)
	est, err := engine.Estimate(ctx, estimator.Request{Selection: &sel})
	if err != nil {
		return err
	}

	printSummary(w, est, batch.Malformed)
	printCurve(w, est.Result)
	if cfg.reorient.enabled {
		r := est.Profile.Reorient(cfg.reorient.azimuth, cfg.reorient.tilt, cfg.reorient.baseAzimuth)
		printReoriented(w, cfg.reorient, est.Profile, r)
	}

	if cfg.out != "" {
		table, err := export.FromResult(est.Result)
		if err != nil {
			return err
		}
		if err := export.WriteFile(cfg.out, table); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "curve written", slog.String("path", cfg.out))
	}
	return nil
}

func buildSelection(cfg config, loc *time.Location) (store.Selection, error) {
	sel := store.Selection{
		Series:   cfg.series,
		HourFrom: cfg.hourFrom,
		HourTo:   cfg.hourTo,
		Location: loc,
	}
	var err error
	if sel.From, err = estimator.ParseDate(cfg.from, loc); err != nil {
		return store.Selection{}, err
	}
	if sel.To, err = estimator.ParseDate(cfg.to, loc); err != nil {
		return store.Selection{}, err
	}
	if err := sel.Validate(); err != nil {
		return store.Selection{}, err
	}
	return sel, nil
}

// loadInputs loads every path, reading directories with ingest.LoadDir.
func loadInputs(ctx context.Context, paths []string, opts ingest.Options) (ingest.Batch, error) {
	if len(paths) == 0 {
		return ingest.Batch{}, errors.New("no input given")
	}

	var all ingest.Batch
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return ingest.Batch{}, fmt.Errorf("reading input: %w", err)
		}

		var batch ingest.Batch
		if fi.IsDir() {
			batch, err = ingest.LoadDir(ctx, path, opts)
		} else {
			batch, err = ingest.Load(ctx, path, opts)
		}
		if err != nil {
			return ingest.Batch{}, err
		}
		all.Merge(batch)
	}
	return all, nil
}

// fetchInflux queries the selection's date range. Both bounds are required
// since Flux ranges cannot be open.
func fetchInflux(ctx context.Context, cfg influxConfig, sel store.Selection) (ingest.Batch, error) {
	if cfg.url == "" || cfg.token == "" {
		return ingest.Batch{}, errors.New("influx source needs INFLUX_URL and INFLUX_TOKEN")
	}
	if cfg.org == "" || cfg.bucket == "" {
		return ingest.Batch{}, errors.New("influx source needs INFLUX_ORG and INFLUX_BUCKET")
	}
	if sel.From.IsZero() || sel.To.IsZero() {
		return ingest.Batch{}, errors.New("influx source needs --from and --to")
	}
	tags, err := parseTags(cfg.tags)
	if err != nil {
		return ingest.Batch{}, err
	}

	client := influxdb2.NewClient(cfg.url, cfg.token)
	defer client.Close()

	src := &ingest.InfluxSource{
		Client:      client,
		Org:         cfg.org,
		Bucket:      cfg.bucket,
		Measurement: cfg.measurement,
		Field:       cfg.field,
		Tags:        tags,
	}
	return src.Fetch(ctx, model.TimeRange{Start: sel.From, End: sel.To})
}

func printSummary(w io.Writer, est estimator.Estimate, loadMalformed int) {
	res := est.Result
	fmt.Fprintf(w, "=== Clear-sky curve ===\n")
	fmt.Fprintf(w, "  Run: %s\n", res.RunID)
	fmt.Fprintf(w, "  Slots: %d x %d min   Savitzky-Golay window %d, order %d\n",
		len(res.Slots), res.Params.Granularity, res.Params.Window, res.Params.Order)
	fmt.Fprintf(w, "  Samples: %d   Malformed: %d   Outliers: %d   Empty slots: %d\n",
		res.Samples, res.Malformed+loadMalformed, res.Stats.Outliers, res.Stats.EmptySlots)
	if est.Profile.PeakIndex >= 0 {
		fmt.Fprintf(w, "  Peak: %.1f W at %s   Daily energy: %.2f kWh\n",
			est.Profile.PeakW, est.Profile.Slot(est.Profile.PeakIndex), est.Profile.EnergyWh/1000)
	} else {
		fmt.Fprintf(w, "  Peak: none, the curve is dark\n")
	}
	fmt.Fprintln(w)
}

func printCurve(w io.Writer, res clearsky.Result) {
	fmt.Fprintf(w, "   %5s │ %10s │ %10s\n", "Slot", "Raw W", "Smoothed W")
	fmt.Fprintf(w, "  ───────┼────────────┼────────────\n")
	for i, slot := range res.Slots {
		fmt.Fprintf(w, "   %5s │ %10.1f │ %10.1f\n", slot, res.Raw[i], res.Smoothed[i])
	}
	fmt.Fprintln(w)
}

func printReoriented(w io.Writer, cfg reorientConfig, base, r solar.Profile) {
	fmt.Fprintf(w, "=== Reoriented to azimuth %.0f°, tilt %.0f° ===\n", cfg.azimuth, cfg.tilt)
	if r.PeakIndex < 0 {
		fmt.Fprintf(w, "  No production\n")
		return
	}
	fmt.Fprintf(w, "  Peak at %s (measured %s)   Daily energy: %.2f kWh (measured %.2f kWh)\n",
		r.Slot(r.PeakIndex), base.Slot(base.PeakIndex), r.EnergyWh/1000, base.EnergyWh/1000)
	fmt.Fprintf(w, "   %4s │ %10s │ %10s\n", "Hour", "Measured W", "Reoriented W")
	fmt.Fprintf(w, "  ──────┼────────────┼─────────────\n")
	for h := 0; h < 24; h++ {
		fmt.Fprintf(w, "     %02d │ %10.1f │ %10.1f\n", h, base.PowerAt(float64(h), 0), r.PowerAt(float64(h), 0))
	}
}

func resolveFlag(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseTags parses "key=value,key=value".
func parseTags(s string) (map[string]string, error) {
	tags := make(map[string]string)
	for _, kv := range splitList(s) {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag filter %q, expected key=value", kv)
		}
		tags[k] = strings.TrimSpace(v)
	}
	return tags, nil
}

// parseAzimuth accepts degrees or a compass point.
func parseAzimuth(s string) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N":
		return 0, nil
	case "E":
		return 90, nil
	case "S":
		return 180, nil
	case "W":
		return 270, nil
	}
	deg, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || deg < 0 || deg >= 360 {
		return 0, fmt.Errorf("invalid azimuth %q, expected 0-359 or N/E/S/W", s)
	}
	return deg, nil
}
