package crawler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// Driver runs a full crawl: it reads the resume point once and walks listing
// pages from the configured root until no next page remains.
type Driver struct {
	cfg    Config
	deps   Deps
	walker *Walker
	logger *zap.Logger
}

// NewDriver wires a Driver and its Walker.
func NewDriver(cfg Config, deps Deps) (*Driver, error) {
	walker, err := NewWalker(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg:    walker.cfg,
		deps:   walker.deps,
		walker: walker,
		logger: walker.deps.Logger.Named("driver"),
	}, nil
}

// Run performs one crawl. Markers appended before a failure stay valid, so a
// later run resumes after the last saved poem.
func (d *Driver) Run(ctx context.Context) (_ Result, err error) {
	start := d.deps.Clock.Now()
	runID := d.newRunID()
	ctx, span := tracer.Start(ctx, "crawler.run", trace.WithAttributes(
		attribute.String("poems.run_id", runID.String()),
		attribute.String("url.full", d.cfg.ListingURL),
	))
	defer func() { endSpan(span, err) }()

	last, ok, err := d.deps.Log.ReadLast()
	if err != nil {
		return Result{}, fmt.Errorf("read resume point: %w", err)
	}
	state := NewResumeState(last, ok)
	result := Result{ResumeFrom: state.LastTitle}
	if state.Skipping {
		d.logger.Info("RESUME MODE: skipping until last processed poem", zap.String("title", state.LastTitle))
	} else {
		d.logger.Info("FRESH START: no previous progress found")
	}

	d.deps.Events.Emit(ctx, progress.Event{
		RunID: runID,
		TS:    start,
		Stage: progress.StageRunStart,
		URL:   d.cfg.ListingURL,
		Note:  state.LastTitle,
	})

	visited := newVisitTracker()
	pageURL := d.cfg.ListingURL
	visited.MarkIfNew(pageURL)
	for page := 1; pageURL != ""; page++ {
		pr, err := d.walker.Walk(ctx, PageRequest{
			RunID:          runID,
			URL:            pageURL,
			Number:         page,
			ProcessedSoFar: result.Processed,
			State:          state,
		})
		// Partial page counts still describe work that reached the store.
		result.add(pr)
		state = pr.State
		if err != nil {
			result.Duration = elapsed(start, d.deps.Clock.Now())
			d.deps.Events.Emit(ctx, progress.Event{
				RunID: runID,
				TS:    d.deps.Clock.Now(),
				Stage: progress.StageRunError,
				URL:   pageURL,
				Page:  page,
				Count: result.Saved,
				Dur:   result.Duration,
				Note:  err.Error(),
			})
			return result, fmt.Errorf("crawl page %d: %w", page, err)
		}

		next := pr.NextURL
		switch {
		case next == "":
			d.logger.Info("no next page found, crawl complete", zap.Int("page", page))
		case d.cfg.MaxPages > 0 && page >= d.cfg.MaxPages:
			d.logger.Info("max pages reached", zap.Int("max_pages", d.cfg.MaxPages))
			next = ""
		case !visited.MarkIfNew(next):
			d.logger.Warn("next page already visited, stopping", zap.String("url", next))
			next = ""
		}
		pageURL = next
	}

	result.ResumeMatched = !state.Skipping
	if state.Skipping {
		d.logger.Warn("resume point never found in listing, nothing was saved",
			zap.String("title", state.LastTitle))
	}
	result.Duration = elapsed(start, d.deps.Clock.Now())
	d.deps.Events.Emit(ctx, progress.Event{
		RunID: runID,
		TS:    d.deps.Clock.Now(),
		Stage: progress.StageRunDone,
		URL:   d.cfg.ListingURL,
		Count: result.Saved,
		Dur:   result.Duration,
	})
	d.logger.Info("crawl finished",
		zap.Int("pages", result.Pages),
		zap.Int("saved", result.Saved),
		zap.Int("empty", result.Empty),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (d *Driver) newRunID() uuid.UUID {
	if d.deps.IDs != nil {
		if id, err := d.deps.IDs.NewRunID(); err == nil {
			return id
		}
	}
	return uuid.New()
}
