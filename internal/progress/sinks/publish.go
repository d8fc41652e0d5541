package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// Publisher sends a JSON-encodable payload tagged with an event type.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
	Close() error
}

// PoemSavedMessage is published for every saved poem.
type PoemSavedMessage struct {
	RunID   string    `json:"run_id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	URI     string    `json:"uri"`
	SHA256  string    `json:"sha256"`
	Lines   int       `json:"lines"`
	SavedAt time.Time `json:"saved_at"`
}

// RunFinishedMessage is published when a run ends.
type RunFinishedMessage struct {
	RunID      string    `json:"run_id"`
	Result     string    `json:"result"`
	PoemsSaved int       `json:"poems_saved"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// PublishSink notifies downstream consumers about saved poems and finished runs.
type PublishSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPublishSink wraps pub.
func NewPublishSink(pub Publisher, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, logger: logger}
}

// Consume publishes PoemSaved, RunDone and RunError events; others are ignored.
func (s *PublishSink) Consume(ctx context.Context, evt progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var payload any
	switch evt.Stage {
	case progress.StagePoemSaved:
		payload = PoemSavedMessage{
			RunID:   evt.RunID.String(),
			Title:   evt.Title,
			URL:     evt.URL,
			URI:     evt.URI,
			SHA256:  evt.Hash,
			Lines:   evt.Units,
			SavedAt: evt.TS,
		}
	case progress.StageRunDone, progress.StageRunError:
		msg := RunFinishedMessage{
			RunID:      evt.RunID.String(),
			Result:     "success",
			PoemsSaved: evt.Count,
			DurationMS: evt.Dur.Milliseconds(),
			FinishedAt: evt.TS,
		}
		if evt.Stage == progress.StageRunError {
			msg.Result = "error"
			msg.Error = evt.Note
		}
		payload = msg
	default:
		return nil
	}
	id, err := s.pub.Publish(ctx, string(evt.Stage), payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Stage, err)
	}
	s.logger.Debug("published progress event", zap.String("stage", string(evt.Stage)), zap.String("message_id", id))
	return nil
}

// Close flushes and closes the publisher.
func (s *PublishSink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
