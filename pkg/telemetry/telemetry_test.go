package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "endpoint",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug").
		NewComponentLogger("scheduler").
		WithRunID("run-1").
		WithNode("Select(a, int)")

	logger.WithError(errors.New("boom")).Warn("step failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scheduler", line["component"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "Select(a, int)", line["node"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "step failed", line["message"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn")
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRunStarted()
		m.RecordRunCompleted("succeeded", time.Second)
		m.RecordStep("select", "Return", time.Millisecond)
		m.RecordTaskInvocation("double", "success", time.Millisecond)
		m.RecordInvalidation("files", 3)
		m.RecordCycle()
		m.RecordError("graph_cycle", "CYCLE")
		m.SetGraphSize(1, 1)
		m.SetActiveRuns(1)
	})
	assert.Nil(t, m.Gatherer())

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.NotPanics(t, func() { disabled.RecordCycle() })
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordTaskInvocation("double", "success", time.Millisecond)
	m.RecordTaskInvocation("double", "success", time.Millisecond)
	m.RecordTaskInvocation("double", "failure", time.Millisecond)
	m.RecordInvalidation("files", 4)
	m.RecordInvalidation("subject", 5)
	m.SetGraphSize(10, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.taskInvocations.WithLabelValues("double", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskInvocations.WithLabelValues("double", "failure")))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.nodesInvalidated))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.graphNodes))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.graphCompleted))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestTracerSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer := NewTracerWithExporter("test", exporter)

	ctx, run := tracer.StartRunSpan(context.Background(), "run-1")
	_, task := tracer.StartTaskSpan(ctx, "double", "Task(5, int)")
	RecordError(task, errors.New("boom"))
	task.End()
	RecordSuccess(run)
	run.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "task.double", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, "run.execute", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)

	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartTaskSpan(context.Background(), "double", "n")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { span.End() })
	assert.NoError(t, tracer.Shutdown(context.Background()))
	assert.Empty(t, TraceID(ctx))
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	var all, failures []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { failures = append(failures, e) }, FilterByLevel(EventLevelError))

	require.NoError(t, ep.PublishRunStarted("run-1", "alice"))
	require.NoError(t, ep.PublishNodeFailed("run-1", "Task(x)", "boom"))
	require.NoError(t, ep.PublishRootCompleted("run-1", "Select(x)", "failed"))
	require.NoError(t, ep.PublishInvalidation("files", 3))

	require.Len(t, all, 4)
	assert.Equal(t, EventTypeRunStarted, all[0].Type)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, "engine", all[0].Source)
	assert.Equal(t, EventLevelWarning, all[2].Level)
	assert.Equal(t, "graph", all[3].Source)

	require.Len(t, failures, 1)
	assert.Equal(t, "Task(x)", failures[0].Node)

	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 100, MaxBatchSize: 10, EnableAsync: true})
	require.NoError(t, err)

	received := make(chan Event, 100)
	ep.Subscribe(func(e Event) { received <- e }, FilterByRunID("run-2"))
	ep.AddFilter(FilterByType(EventTypeRunStarted, EventTypeRunCompleted))

	require.NoError(t, ep.PublishRunStarted("run-1", "alice"))
	require.NoError(t, ep.PublishRunStarted("run-2", "bob"))
	require.NoError(t, ep.PublishRunFailed("run-2", "ignored by type filter"))
	require.NoError(t, ep.PublishRunCompleted("run-2", "succeeded", time.Second))

	require.NoError(t, ep.Shutdown(context.Background()))
	close(received)

	var types []string
	for e := range received {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{EventTypeRunStarted, EventTypeRunCompleted}, types)
}

func TestNilEventPublisher(t *testing.T) {
	var ep *EventPublisher
	assert.NoError(t, ep.PublishRunStarted("run", "me"))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stdout"
	cfg.Logging.Level = "disabled"
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)

	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	op := StartOperation(ctx, "load")
	op.End(nil)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Nil(t, FromTelemetryContext(context.Background()))
}
