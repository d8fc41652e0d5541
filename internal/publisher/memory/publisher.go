// Package memory keeps poem notifications in process for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Message is one recorded notification.
type Message struct {
	ID string
	// EventType is the progress stage the notification describes.
	EventType string
	Payload   any
}

// Publisher records notifications in publish order.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	closed   bool
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records payload under eventType and returns its sequential ID.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, EventType: eventType, Payload: payload})
	return id, nil
}

// Close stops further publishes. Recorded messages stay readable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Messages returns every recorded notification.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// ByEventType returns the notifications recorded for eventType, oldest first.
func (p *Publisher) ByEventType(eventType string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if m.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}

// Counts tallies recorded notifications per event type.
func (p *Publisher) Counts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, 4)
	for _, m := range p.messages {
		out[m.EventType]++
	}
	return out
}
