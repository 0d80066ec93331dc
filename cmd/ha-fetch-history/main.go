package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/snappy"
	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"pv_clearsky/internal/ingest"
	"pv_clearsky/internal/log"
)

type record struct {
	sensorID string
	value    float64
	ts       float64 // unix epoch seconds
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	urlFlag := lflag.String("url", "", "Home Assistant base URL (overrides HA_URL)")
	tokenFlag := lflag.String("token", "", "Long-lived access token (overrides HA_TOKEN)")
	entities := lflag.String("entities", "sensor.pv_power", "Comma separated PV power entity ids to fetch")
	days := lflag.Int("days", 7, "Days to fetch on first run (ignored if output file has data)")
	output := lflag.String("output", "input/ha-fetch.csv", "Output CSV path; a .sz suffix writes it snappy compressed")
	lflag.Configure()
	if err := log.Configure(); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	haURL := resolveFlag(*urlFlag, "HA_URL")
	haToken := resolveFlag(*tokenFlag, "HA_TOKEN")
	if haURL == "" {
		fatal(ctx, "HA_URL not set, use --url or set HA_URL in .env", nil)
	}
	if haToken == "" {
		fatal(ctx, "HA_TOKEN not set, use --token or set HA_TOKEN in .env", nil)
	}

	f := newFetcher(&http.Client{Timeout: 30 * time.Second}, haURL, haToken, splitEntities(*entities))
	if len(f.entities) == 0 {
		fatal(ctx, "no entity ids given", nil)
	}

	existing, earliestTS, latestTS := loadExistingRecords(*output)
	startTime := resumeStart(ctx, earliestTS, latestTS, *days, time.Now())

	newRecords, err := f.fetchRange(ctx, startTime, time.Now())
	if err != nil {
		fatal(ctx, "fetching history", err)
	}

	merged := mergeRecords(existing, newRecords)

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fatal(ctx, "creating output directory", err)
	}
	if err := writeCSV(*output, merged); err != nil {
		fatal(ctx, "writing CSV", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "wrote records",
		slog.String("path", *output),
		slog.Int("records", len(merged)),
		slog.Int("existing", len(existing)),
		slog.Int("fetched", len(newRecords)),
	)
}

func fatal(ctx context.Context, msg string, err error) {
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		log.Ctx(ctx).ErrorContext(ctx, msg)
	}
	os.Exit(1)
}

func resolveFlag(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}

// splitEntities returns the sorted, de-duplicated entity ids in s.
func splitEntities(s string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// loadExistingRecords reads a previous output file, returning its records
// and their smallest and largest timestamps. A missing or unreadable file
// yields no records.
// resumeStart picks where fetching begins: one minute before the newest
// existing record, or days before now on a first run.
func resumeStart(ctx context.Context, earliestTS, latestTS float64, days int, now time.Time) time.Time {
	if latestTS > 0 {
		start := time.Unix(int64(latestTS), 0).Add(-1 * time.Minute)
		log.Ctx(ctx).InfoContext(ctx, "resuming from latest timestamp minus 1min overlap",
			slog.Time("covered_from", time.Unix(int64(earliestTS), 0)),
			slog.Time("covered_to", time.Unix(int64(latestTS), 0)),
			slog.Time("start", start))
		return start
	}
	start := now.AddDate(0, 0, -days)
	log.Ctx(ctx).InfoContext(ctx, "first run",
		slog.Int("days", days), slog.Time("start", start))
	return start
}

func loadExistingRecords(path string) ([]record, float64, float64) {
	rc, err := ingest.Open(path)
	if err != nil {
		return nil, 0, 0
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	// skip header
	if _, err := cr.Read(); err != nil {
		return nil, 0, 0
	}

	var records []record
	var minTS, maxTS float64

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(row) < 3 {
			continue
		}

		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			continue
		}
		ts, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}

		records = append(records, record{
			sensorID: row[0],
			value:    value,
			ts:       ts,
		})
		if minTS == 0 || ts < minTS {
			minTS = ts
		}
		if ts > maxTS {
			maxTS = ts
		}
	}

	return records, minTS, maxTS
}

// fetcher pulls state history for a fixed set of entities.
type fetcher struct {
	client   *http.Client
	baseURL  string
	token    string
	entities map[string]bool
	ids      string
	// pause separates consecutive day requests.
	pause time.Duration
}

func newFetcher(client *http.Client, baseURL, token string, entities []string) *fetcher {
	f := &fetcher{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		entities: make(map[string]bool, len(entities)),
		ids:      strings.Join(entities, ","),
		pause:    500 * time.Millisecond,
	}
	for _, id := range entities {
		f.entities[id] = true
	}
	return f
}

// fetchRange fetches [start, end) one day at a time.
func (f *fetcher) fetchRange(ctx context.Context, start, end time.Time) ([]record, error) {
	var records []record
	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		dayEnd := day.Add(24 * time.Hour)
		if dayEnd.After(end) {
			dayEnd = end
		}

		dayRecords, err := f.fetchDay(ctx, day, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", day.Format(time.DateOnly), err)
		}
		records = append(records, dayRecords...)
		log.Ctx(ctx).InfoContext(ctx, "fetched day",
			slog.String("day", day.Format(time.DateOnly)),
			slog.Int("records", len(dayRecords)),
		)

		if dayEnd.Before(end) {
			if err := sleep(ctx, f.pause); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

func (f *fetcher) fetchDay(ctx context.Context, start, end time.Time) ([]record, error) {
	u := fmt.Sprintf("%s/api/history/period/%s?end_time=%s&filter_entity_id=%s&minimal_response&no_attributes",
		f.baseURL,
		url.PathEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)),
		f.ids,
	)

	var body []byte
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		body, err = f.doRequest(ctx, u)
		if err == nil {
			break
		}
		if isRetryable(err) {
			wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Ctx(ctx).WarnContext(ctx, "retrying request",
				slog.Duration("wait", wait), slog.Any("error", err))
			if serr := sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("after 5 attempts: %w", err)
	}

	return parseHistoryResponse(body, f.entities)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		return true // network errors are retryable
	}
	return ae.statusCode == http.StatusTooManyRequests || ae.statusCode >= 500
}

func (f *fetcher) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &apiError{statusCode: resp.StatusCode, message: "authentication failed, check your HA_TOKEN"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: resp.StatusCode, message: string(body)}
	}
	return body, nil
}

// parseHistoryResponse parses the HA history API response.
// Format: array of arrays. Each inner array is one entity's history.
// With minimal_response, only the first entry has entity_id. Entities not
// in want are skipped; a nil want keeps all.
func parseHistoryResponse(data []byte, want map[string]bool) ([]record, error) {
	var outer [][]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	var records []record
	for _, entityHistory := range outer {
		var currentEntityID string
		for _, raw := range entityHistory {
			var entry struct {
				EntityID    string `json:"entity_id"`
				State       string `json:"state"`
				LastChanged string `json:"last_changed"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}

			if entry.EntityID != "" {
				currentEntityID = entry.EntityID
			}
			if want != nil && !want[currentEntityID] {
				continue
			}

			// Skip non-numeric states
			if entry.State == "unavailable" || entry.State == "unknown" || entry.State == "" {
				continue
			}

			value, err := strconv.ParseFloat(entry.State, 64)
			if err != nil {
				continue
			}

			ts, err := time.Parse(time.RFC3339Nano, entry.LastChanged)
			if err != nil {
				continue
			}

			records = append(records, record{
				sensorID: currentEntityID,
				value:    value,
				ts:       float64(ts.UnixNano()) / 1e9,
			})
		}
	}

	return records, nil
}

func mergeRecords(existing, new []record) []record {
	type key struct {
		sensorID string
		ts       float64
	}

	seen := make(map[key]record, len(existing)+len(new))
	for _, r := range existing {
		seen[key{r.sensorID, r.ts}] = r
	}
	for _, r := range new {
		seen[key{r.sensorID, r.ts}] = r // new overwrites existing on conflict
	}

	merged := make([]record, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].sensorID != merged[j].sensorID {
			return merged[i].sensorID < merged[j].sensorID
		}
		return merged[i].ts < merged[j].ts
	})

	return merged
}

// writeCSV writes records in the layout read by ingest.RecentParser,
// snappy compressed when path ends in .sz.
func writeCSV(path string, records []record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var out io.Writer = f
	if strings.HasSuffix(path, ingest.CompressedExt) {
		sw := snappy.NewBufferedWriter(f)
		defer func() {
			if cerr := sw.Close(); err == nil {
				err = cerr
			}
		}()
		out = sw
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"sensor_id", "value", "updated_ts"}); err != nil {
		return err
	}

	for _, r := range records {
		if err := w.Write([]string{
			r.sensorID,
			strconv.FormatFloat(r.value, 'f', -1, 64),
			strconv.FormatFloat(r.ts, 'f', 7, 64),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
