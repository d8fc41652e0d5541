package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/progress"
	"github.com/JakeFAU/poem-crawler/internal/storage/postgres"
)

// Catalog is the subset of the Postgres catalog used by StoreSink.
type Catalog interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, listingURL, resumeFrom string) error
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status string, saved int, errMsg *string) error
	UpsertPoem(ctx context.Context, rec postgres.PoemRecord) error
}

// StoreSink records runs and saved poems in a catalog.
type StoreSink struct {
	repo   Catalog
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided catalog.
func NewStoreSink(repo Catalog, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run and poem events to the catalog and returns its errors
// verbatim (wrapped).
func (s *StoreSink) Consume(ctx context.Context, evt progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, evt.RunID, evt.TS, evt.URL, evt.Note); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, postgres.RunSuccess, evt.Count, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, postgres.RunError, evt.Count, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StagePoemSaved:
		rec := postgres.PoemRecord{
			RunID:   evt.RunID,
			Title:   evt.Title,
			URL:     evt.URL,
			URI:     evt.URI,
			Hash:    evt.Hash,
			Lines:   evt.Units,
			Bytes:   evt.Bytes,
			SavedAt: evt.TS,
		}
		if err := s.repo.UpsertPoem(ctx, rec); err != nil {
			return fmt.Errorf("upsert poem: %w", err)
		}
		s.logger.Debug("catalogued poem", zap.String("title", evt.Title))
	}
	return nil
}

// Close implements the Sink interface; the catalog is closed by its owner.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
