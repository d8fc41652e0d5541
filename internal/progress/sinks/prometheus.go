package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages      prometheus.Counter
	poemsSaved prometheus.Counter
	poemsEmpty prometheus.Counter
	savedBytes prometheus.Counter
	lastSaved  prometheus.Gauge

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poem_crawler_runs_started_total",
			Help: "Crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poem_crawler_runs_completed_total",
			Help: "Crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poem_crawler_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poem_crawler_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poem_crawler_listing_pages_total",
			Help: "Listing pages fully processed.",
		}),
		poemsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poem_crawler_poems_saved_total",
			Help: "Poems written to storage.",
		}),
		poemsEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poem_crawler_poems_empty_total",
			Help: "Poem pages where no content was found.",
		}),
		savedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poem_crawler_saved_bytes_total",
			Help: "Bytes of poem text written to storage.",
		}),
		lastSaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poem_crawler_last_run_poems_saved",
			Help: "Poems saved by the most recently finished run.",
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poem_crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poem_crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poem_crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.poemsSaved,
		s.poemsEmpty,
		s.savedBytes,
		s.lastSaved,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors for one event.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StagePageDone:
		s.pages.Inc()
	case progress.StagePoemSaved:
		s.poemsSaved.Inc()
		if evt.Bytes > 0 {
			s.savedBytes.Add(float64(evt.Bytes))
		}
	case progress.StagePoemEmpty:
		s.poemsEmpty.Inc()
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.runsRunning.Dec()
	s.lastSaved.Set(float64(evt.Count))
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
