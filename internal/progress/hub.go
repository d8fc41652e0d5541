package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 10 * time.Second

// Config controls how the Hub calls its sinks.
//   - SinkTimeout: per-sink timeout for each event (default 10s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub fans events out to registered sinks synchronously, in registration
// order. A failing sink is logged and never fails the crawl.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// NewHub initializes a Hub with the supplied sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{cfg: cfg, logger: logger}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	return h
}

// Emit validates evt and delivers it to every sink.
func (h *Hub) Emit(ctx context.Context, evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Sinks still run after the crawl context is canceled so RUN_ERROR lands.
	base := context.WithoutCancel(ctx)
	for _, sink := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(base, h.cfg.SinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("stage", string(evt.Stage)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close closes every sink once. Later Emit calls are ignored.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		for _, sink := range h.sinks {
			if err := sink.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close progress sinks: %w", err)
	}
	return nil
}
