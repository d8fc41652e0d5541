package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// ErrFetch marks a failed fetch: a transport error, or a non-2xx listing
// page. Fetch failures are never retried and abort the run. A poem page with
// a non-2xx status is counted as empty instead.
var ErrFetch = errors.New("fetch failed")

// Deps bundles the collaborators shared by the walker and the driver.
type Deps struct {
	Fetcher   Fetcher
	Extractor ContentExtractor
	Store     PoemStore
	Log       ProgressLog
	Events    progress.Emitter
	Pauser    Pauser
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = progress.Nop{}
	}
	if d.Pauser == nil {
		d.Pauser = SleepPauser{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

func (d Deps) validate() error {
	switch {
	case d.Fetcher == nil:
		return errors.New("fetcher is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.Store == nil:
		return errors.New("poem store is required")
	case d.Log == nil:
		return errors.New("progress log is required")
	}
	return nil
}

// Walker processes a single listing page.
type Walker struct {
	cfg    Config
	origin *url.URL
	deps   Deps
	logger *zap.Logger
}

// NewWalker validates cfg and deps and returns a ready Walker.
func NewWalker(cfg Config, deps Deps) (*Walker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	deps = deps.withDefaults()
	if err := deps.validate(); err != nil {
		return nil, err
	}
	origin, err := cfg.originURL()
	if err != nil {
		return nil, err
	}
	return &Walker{
		cfg:    cfg,
		origin: origin,
		deps:   deps,
		logger: deps.Logger.Named("walker"),
	}, nil
}

// Walk fetches one listing page, processes its entries in order and reports
// the next page link together with the updated resume state.
func (w *Walker) Walk(ctx context.Context, req PageRequest) (_ PageResult, err error) {
	ctx, span := tracer.Start(ctx, "crawler.walk_page", trace.WithAttributes(
		attribute.Int("poems.page", req.Number),
		attribute.String("url.full", req.URL),
	))
	defer func() { endSpan(span, err) }()

	result := PageResult{State: req.State}

	resp, err := w.fetch(ctx, req.RunID, req.URL, req.Number)
	if err != nil {
		return result, err
	}
	if !statusOK(resp.StatusCode) {
		return result, fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, req.URL, resp.StatusCode)
	}
	listing, err := ParseListing(resp.Body, w.origin, w.cfg)
	if err != nil {
		return result, fmt.Errorf("listing page %d: %w", req.Number, err)
	}
	result.Entries = len(listing.Entries)
	result.NextURL = listing.NextURL
	w.logger.Info("found poems on page",
		zap.Int("page", req.Number),
		zap.Int("count", result.Entries),
		zap.String("url", req.URL),
	)

	for _, entry := range listing.Entries {
		title := SanitizeTitle(entry.Title)
		if result.State.Skipping {
			if title == result.State.LastTitle {
				result.State.Skipping = false
				w.logger.Info("reached resume point", zap.String("title", title))
			} else {
				w.logger.Debug("skipping already processed poem", zap.String("title", title))
			}
			result.Skipped++
			continue
		}

		result.Processed++
		n := req.ProcessedSoFar + result.Processed
		saved, err := w.processPoem(ctx, req, n, ListingEntry{Title: title, URL: entry.URL})
		if err != nil {
			return result, err
		}
		if saved {
			result.Saved++
		} else {
			result.Empty++
		}
	}

	w.deps.Events.Emit(ctx, progress.Event{
		RunID: req.RunID,
		TS:    w.deps.Clock.Now(),
		Stage: progress.StagePageDone,
		URL:   req.URL,
		Page:  req.Number,
		Count: result.Saved,
	})
	return result, nil
}

// processPoem fetches, extracts and stores one poem. It reports false when
// the page had no extractable content or answered with a non-2xx status.
func (w *Walker) processPoem(ctx context.Context, req PageRequest, n int, entry ListingEntry) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "crawler.process_poem", trace.WithAttributes(
		attribute.String("poems.title", entry.Title),
		attribute.String("url.full", entry.URL),
	))
	defer func() { endSpan(span, err) }()

	w.logger.Info("processing poem",
		zap.Int("n", n),
		zap.String("title", entry.Title),
		zap.String("url", entry.URL),
	)
	resp, err := w.fetch(ctx, req.RunID, entry.URL, req.Number)
	if err != nil {
		return false, err
	}
	if !statusOK(resp.StatusCode) {
		// Counted as empty; no marker is written.
		w.logger.Warn("poem page returned error status",
			zap.String("title", entry.Title),
			zap.String("url", entry.URL),
			zap.Int("status", resp.StatusCode),
		)
		w.emitEmpty(ctx, req, entry, fmt.Sprintf("status %d", resp.StatusCode))
		return false, nil
	}
	lines, err := w.deps.Extractor.Extract(resp.Body)
	if err != nil {
		return false, fmt.Errorf("extract %q: %w", entry.Title, err)
	}
	if len(lines) == 0 {
		w.logger.Warn("no content found", zap.String("title", entry.Title), zap.String("url", entry.URL))
		w.emitEmpty(ctx, req, entry, "no content")
		return false, nil
	}

	poem := Poem{Title: entry.Title, URL: entry.URL, Lines: lines}
	body := poem.Body()
	uri, err := w.deps.Store.SavePoem(ctx, poem)
	if err != nil {
		return false, fmt.Errorf("save poem %q: %w", entry.Title, err)
	}
	if err := w.deps.Log.Append(entry.Title); err != nil {
		return false, fmt.Errorf("record %q in progress log: %w", entry.Title, err)
	}
	sum := sha256.Sum256(body)
	w.deps.Events.Emit(ctx, progress.Event{
		RunID: req.RunID,
		TS:    w.deps.Clock.Now(),
		Stage: progress.StagePoemSaved,
		URL:   entry.URL,
		Page:  req.Number,
		Title: entry.Title,
		Units: len(lines),
		Bytes: int64(len(body)),
		URI:   uri,
		Hash:  hex.EncodeToString(sum[:]),
	})
	w.logger.Debug("poem saved", zap.String("title", entry.Title), zap.String("uri", uri))
	return true, nil
}

func (w *Walker) emitEmpty(ctx context.Context, req PageRequest, entry ListingEntry, note string) {
	w.deps.Events.Emit(ctx, progress.Event{
		RunID: req.RunID,
		TS:    w.deps.Clock.Now(),
		Stage: progress.StagePoemEmpty,
		URL:   entry.URL,
		Page:  req.Number,
		Title: entry.Title,
		Note:  note,
	})
}

// fetch performs one GET and pauses for the politeness delay. Only transport
// failures are errors here; callers decide what a non-2xx status means.
func (w *Walker) fetch(ctx context.Context, runID uuid.UUID, rawURL string, page int) (FetchResponse, error) {
	start := w.deps.Clock.Now()
	resp, err := w.deps.Fetcher.Fetch(ctx, FetchRequest{URL: rawURL, Headers: w.cfg.Headers.Clone()})
	if err != nil {
		return FetchResponse{}, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}
	w.deps.Pauser.Pause(w.cfg.Delay)

	dur := resp.Duration
	if dur <= 0 {
		dur = elapsed(start, w.deps.Clock.Now())
	}
	w.deps.Events.Emit(ctx, progress.Event{
		RunID:       runID,
		TS:          w.deps.Clock.Now(),
		Stage:       progress.StageFetchDone,
		Site:        siteLabel(rawURL),
		URL:         rawURL,
		Page:        page,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         dur,
	})

	return resp, nil
}

func statusOK(code int) bool {
	return code >= 200 && code <= 299
}

func siteLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

// elapsed never reports a negative duration, even with a test clock.
func elapsed(from, to time.Time) time.Duration {
	if d := to.Sub(from); d > 0 {
		return d
	}
	return 0
}
