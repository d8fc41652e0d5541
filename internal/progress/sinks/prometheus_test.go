package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/poem-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now()
	events := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{
			RunID:       runID,
			TS:          now.Add(time.Second),
			Stage:       progress.StageFetchDone,
			Site:        "www.gushiwen.cn",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StagePoemSaved, Title: "A", Bytes: 30},
		{RunID: runID, TS: now, Stage: progress.StagePoemSaved, Title: "B", Bytes: 12},
		{RunID: runID, TS: now, Stage: progress.StagePoemEmpty, Title: "C"},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Page: 1},
		{RunID: runID, TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Count: 2, Dur: 15 * time.Second},
	}
	for _, evt := range events {
		require.NoError(t, sink.Consume(context.Background(), evt))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.poemsSaved))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.poemsEmpty))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages))
	require.Equal(t, 42.0, testutil.ToFloat64(sink.savedBytes))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.lastSaved))

	require.InDelta(t, 1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("www.gushiwen.cn", string(progress.Status2xx))), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("www.gushiwen.cn")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "poem_crawler_fetch_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "poem_crawler_run_duration_seconds"))
}

// TestPrometheusSinkErrorRun records failed runs and unlabeled fetches.
func TestPrometheusSinkErrorRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, Stage: progress.StageRunStart}))
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, Stage: progress.StageFetchDone}))
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, Stage: progress.StageRunError}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetchRequests.WithLabelValues("unknown", string(progress.StatusOther))))
	require.NoError(t, sink.Close(context.Background()))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
