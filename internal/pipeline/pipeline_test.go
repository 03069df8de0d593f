package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
	"github.com/couchcryptid/heat-surveillance-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockLoader struct {
	mu       sync.Mutex
	failures int
	calls    int
	loaded   []domain.OutputEvent
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, []domain.Reading) ([]domain.OutputEvent, error) {
	return nil, errors.New("state corrupted")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSurveillance(t *testing.T, metrics *observability.Metrics) *pipeline.Surveillance {
	t.Helper()
	s, err := pipeline.NewSurveillance(pipeline.SurveillanceConfig{
		Scheme:        domain.SchemeSenapred,
		Filter:        domain.AggregateFilter{Band: domain.BandEightyPlus},
		RetentionDays: 400,
	}, discardLogger(), metrics)
	require.NoError(t, err)
	return s
}

func newPipeline(t *testing.T, ext pipeline.BatchExtractor, ev pipeline.Evaluator, ldr pipeline.BatchLoader, metrics *observability.Metrics) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(ext, pipeline.NewTransformer(discardLogger()), ev, ldr, discardLogger(), metrics, 10)
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	var commits atomic.Int64
	batch := []domain.RawEvent{
		temperatureEvent(t, "2024-12-01", "35"),
		temperatureEvent(t, "2024-12-02", "35"),
		temperatureEvent(t, "2024-12-03", "35"),
	}
	for i := range batch {
		batch[i].Commit = func(context.Context) error {
			commits.Add(1)
			return nil
		}
	}

	metrics := observability.NewMetricsForTesting()
	ext := &mockExtractor{batches: [][]domain.RawEvent{batch}}
	ldr := &mockLoader{}
	p := newPipeline(t, ext, newSurveillance(t, metrics), ldr, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Len(t, ldr.loaded, 3)
	assert.Equal(t, "heat_alert-2024-12-03", string(ldr.loaded[2].Key))
	assert.Equal(t, "red", decodeAlert(t, ldr.loaded[2]).Tier.String())
	assert.Equal(t, int64(3), commits.Load())
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.MessagesProduced), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	ldr := &mockLoader{}
	p := newPipeline(t, &mockExtractor{}, newSurveillance(t, metrics), ldr, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_MalformedMessageSkipped(t *testing.T) {
	committed := false
	raw := domain.RawEvent{
		Value:  []byte(`{"kind":"temperature","date":"2024-12-01","t_max":"warm"}`),
		Topic:  "raw-surveillance-readings",
		Offset: 42,
		Commit: func(context.Context) error {
			committed = true
			return nil
		},
	}

	metrics := observability.NewMetricsForTesting()
	ldr := &mockLoader{}
	p := newPipeline(t, &mockExtractor{batches: [][]domain.RawEvent{{raw}}}, newSurveillance(t, metrics), ldr, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.True(t, committed, "malformed messages are committed so they are not redelivered")
	assert.False(t, p.Ready())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecordsRejected), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecordFaults.WithLabelValues("malformed")), 0)
}

func TestPipeline_Run_RetriesFailedLoad(t *testing.T) {
	var commits atomic.Int64
	raw := temperatureEvent(t, "2025-01-10", "41")
	raw.Commit = func(context.Context) error {
		commits.Add(1)
		return nil
	}

	metrics := observability.NewMetricsForTesting()
	ldr := &mockLoader{failures: 1}
	p := newPipeline(t, &mockExtractor{batches: [][]domain.RawEvent{{raw}}}, newSurveillance(t, metrics), ldr, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, 2, ldr.calls)
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, "red", decodeAlert(t, ldr.loaded[0]).Tier.String())
	assert.Equal(t, int64(1), commits.Load())
}

func TestPipeline_Run_EvaluateErrorDoesNotCommit(t *testing.T) {
	committed := false
	raw := temperatureEvent(t, "2025-01-10", "30")
	raw.Commit = func(context.Context) error {
		committed = true
		return nil
	}

	metrics := observability.NewMetricsForTesting()
	ldr := &mockLoader{}
	p := newPipeline(t, &mockExtractor{batches: [][]domain.RawEvent{{raw}}}, failingEvaluator{}, ldr, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.False(t, committed)
	assert.False(t, p.Ready())
}

func TestReadingTransformer_Transform(t *testing.T) {
	tfm := pipeline.NewTransformer(discardLogger())

	r, err := tfm.Transform(context.Background(), temperatureEvent(t, "2024-12-15", "36.2"))
	require.NoError(t, err)
	assert.Equal(t, domain.KindTemperature, r.Kind)
	assert.InDelta(t, 36.2, r.Temperature.TMax, 1e-9)

	_, err = tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}
