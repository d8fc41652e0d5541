// Package progresslog persists the append-only record of poems saved by
// previous crawl runs. Each completed poem is written as one marker line,
// "###<title>###", and the last marker in the file is the resume point.
package progresslog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultPath is where the crawler keeps its log unless configured otherwise.
const DefaultPath = "log/crawl_poems_log.txt"

// ErrUnreadable reports a log file that exists but cannot be read. Resuming
// is not attempted in that case.
var ErrUnreadable = errors.New("progress log unreadable")

var markerPattern = regexp.MustCompile(`###(.*)###`)

// FormatMarker renders the marker line for title, including the newline.
func FormatMarker(title string) string {
	return "###" + title + "###\n"
}

// Markers returns every title recorded in the log at path, oldest first.
// A missing file yields an empty slice.
func Markers(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	matches := markerPattern.FindAllStringSubmatch(string(data), -1)
	titles := make([]string, 0, len(matches))
	for _, m := range matches {
		titles = append(titles, m[1])
	}
	return titles, nil
}

// ReadLast returns the title in the most recent marker. ok is false when the
// file is absent or holds no marker; neither case is an error.
func ReadLast(path string) (title string, ok bool, err error) {
	titles, err := Markers(path)
	if err != nil {
		return "", false, err
	}
	if len(titles) == 0 {
		return "", false, nil
	}
	return titles[len(titles)-1], true, nil
}

// File is an open progress log owned by a single crawl run.
type File struct {
	path string
	f    *os.File
}

// Open creates the parent directory if needed and opens path for appending.
func Open(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create progress log dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open progress log %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the location of the log on disk.
func (l *File) Path() string {
	return l.path
}

// Append records title as completed. The write is synced before returning so
// a crash can lose at most the poem in flight.
func (l *File) Append(title string) error {
	if _, err := l.f.WriteString(FormatMarker(title)); err != nil {
		return fmt.Errorf("append progress marker: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync progress log: %w", err)
	}
	return nil
}

// Close releases the file handle.
func (l *File) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close progress log: %w", err)
	}
	return nil
}

// ReadLast returns the last marker recorded in this log's file.
func (l *File) ReadLast() (string, bool, error) {
	return ReadLast(l.path)
}
