package crawler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ListingEntry is one poem linked from a listing page.
type ListingEntry struct {
	Title string
	URL   string
}

// Poem is the unit handed to a PoemStore.
type Poem struct {
	// Title is the sanitized title; it doubles as the storage key.
	Title string
	URL   string
	Lines []string
}

// Body renders the stored text file: one unit per line, newline terminated.
func (p Poem) Body() []byte {
	size := 0
	for _, l := range p.Lines {
		size += len(l) + 1
	}
	out := make([]byte, 0, size)
	for _, l := range p.Lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return out
}

// ResumeState carries the resume decision between successive listing pages.
// Skipping is true while LastTitle is set and has not been seen in this run;
// once the entry is seen it stays false for the rest of the run.
type ResumeState struct {
	LastTitle string
	Skipping  bool
}

// NewResumeState builds the initial state from the progress log's last marker.
func NewResumeState(lastTitle string, ok bool) ResumeState {
	if !ok {
		return ResumeState{}
	}
	return ResumeState{LastTitle: lastTitle, Skipping: true}
}

// PageRequest describes one invocation of the page walker.
type PageRequest struct {
	RunID  uuid.UUID
	URL    string
	Number int
	// ProcessedSoFar is the number of poems attempted on earlier pages.
	ProcessedSoFar int
	State          ResumeState
}

// PageResult summarizes one listing page.
type PageResult struct {
	Entries   int
	Skipped   int
	Processed int
	Saved     int
	Empty     int
	NextURL   string
	State     ResumeState
}

// Result summarizes a whole crawl run. Saved counts poems newly written in
// this run; entries skipped for resume never count.
type Result struct {
	Pages      int
	Entries    int
	Skipped    int
	Processed  int
	Saved      int
	Empty      int
	ResumeFrom string
	// ResumeMatched is false when a resume point existed but was never found
	// in the listing, in which case nothing was saved.
	ResumeMatched bool
	Duration      time.Duration
}

func (r *Result) add(p PageResult) {
	r.Pages++
	r.Entries += p.Entries
	r.Skipped += p.Skipped
	r.Processed += p.Processed
	r.Saved += p.Saved
	r.Empty += p.Empty
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
