// Package storage lays poems out on top of a blob backend. Each poem becomes
// one object named <prefix>/<title>/text.txt holding one line per text unit.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/poem-crawler/internal/crawler"
)

// PoemFileName is the object name written inside each poem directory.
const PoemFileName = "text.txt"

const textContentType = "text/plain; charset=utf-8"

// BlobStore persists raw objects and returns a URI describing the location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// PoemStore implements crawler.PoemStore on top of a BlobStore.
type PoemStore struct {
	blobs  BlobStore
	prefix string
}

// NewPoemStore wraps blobs. prefix may be empty.
func NewPoemStore(blobs BlobStore, prefix string) (*PoemStore, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	return &PoemStore{blobs: blobs, prefix: strings.Trim(prefix, "/")}, nil
}

// Key returns the object path used for title.
func (s *PoemStore) Key(title string) string {
	return path.Join(s.prefix, title, PoemFileName)
}

// SavePoem writes the poem body, replacing any earlier copy.
func (s *PoemStore) SavePoem(ctx context.Context, poem crawler.Poem) (string, error) {
	title := strings.TrimSpace(poem.Title)
	if title == "" || title == "." || title == ".." {
		return "", fmt.Errorf("invalid poem title %q", poem.Title)
	}
	if strings.Contains(title, "/") {
		return "", fmt.Errorf("poem title %q contains a path separator", poem.Title)
	}
	uri, err := s.blobs.PutObject(ctx, s.Key(poem.Title), textContentType, bytes.NewReader(poem.Body()))
	if err != nil {
		return "", fmt.Errorf("put poem %q: %w", poem.Title, err)
	}
	return uri, nil
}
