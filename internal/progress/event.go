// Package progress defines the event structures emitted by the crawler.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageFetchDone Stage = "FETCH_DONE"
	StagePageDone  Stage = "PAGE_DONE"
	StagePoemSaved Stage = "POEM_SAVED"
	StagePoemEmpty Stage = "POEM_EMPTY"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies one crawl run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host label of URL, set for fetch events.
	Site string
	URL  string
	// Page is the 1-based listing page number.
	Page int
	// Title is the sanitized poem title for poem events.
	Title string
	// Units is the number of text lines saved for a poem.
	Units int
	// Count carries page or run totals (poems saved).
	Count int
	// Bytes carries the response or stored size.
	Bytes       int64
	StatusClass StatusClass
	// URI is where a saved poem was written.
	URI string
	// Hash is the sha256 digest of the stored poem text.
	Hash string
	Dur  time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires page number")
		}
	case StagePoemSaved, StagePoemEmpty:
		if e.Title == "" {
			return errors.New("poem event requires title")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
