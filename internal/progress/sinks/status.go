package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// RunState is the coarse lifecycle of the current run.
type RunState string

// Run states reported by StatusSink.
const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// RunStatus is a point-in-time view of a crawl run.
type RunStatus struct {
	RunID      string     `json:"run_id,omitempty"`
	State      RunState   `json:"state"`
	ResumeFrom string     `json:"resume_from,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Page       int        `json:"page"`
	PagesDone  int        `json:"pages_done"`
	PoemsSaved int        `json:"poems_saved"`
	PoemsEmpty int        `json:"poems_empty"`
	Fetches    int        `json:"fetches"`
	LastTitle  string     `json:"last_title,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusSink keeps the latest RunStatus in memory for the ops server.
type StatusSink struct {
	mu     sync.RWMutex
	runID  uuid.UUID
	status RunStatus
}

// NewStatusSink returns an idle status sink.
func NewStatusSink() *StatusSink {
	return &StatusSink{status: RunStatus{State: RunIdle}}
}

// Consume folds evt into the current status.
func (s *StatusSink) Consume(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Stage == progress.StageRunStart {
		started := evt.TS
		s.runID = evt.RunID
		s.status = RunStatus{
			RunID:      evt.RunID.String(),
			State:      RunRunning,
			ResumeFrom: evt.Note,
			StartedAt:  &started,
		}
		return nil
	}
	if evt.RunID != s.runID {
		return nil
	}

	switch evt.Stage {
	case progress.StageFetchDone:
		s.status.Fetches++
	case progress.StagePageDone:
		s.status.PagesDone++
		s.status.Page = evt.Page
	case progress.StagePoemSaved:
		s.status.PoemsSaved++
		s.status.Page = evt.Page
		s.status.LastTitle = evt.Title
	case progress.StagePoemEmpty:
		s.status.PoemsEmpty++
		s.status.Page = evt.Page
	case progress.StageRunDone:
		s.finish(evt, RunSucceeded)
	case progress.StageRunError:
		s.finish(evt, RunFailed)
		s.status.Error = evt.Note
	}
	return nil
}

func (s *StatusSink) finish(evt progress.Event, state RunState) {
	finished := evt.TS
	s.status.State = state
	s.status.FinishedAt = &finished
}

// Snapshot returns a copy of the current status.
func (s *StatusSink) Snapshot() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	if out.StartedAt != nil {
		started := *out.StartedAt
		out.StartedAt = &started
	}
	if out.FinishedAt != nil {
		finished := *out.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
