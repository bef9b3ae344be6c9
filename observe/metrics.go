// Package observe records runtime metrics through the OpenTelemetry Metrics API.
//
// Tests should build Metrics with NewMetrics and an sdkmetric.ManualReader;
// production code passes otel.GetMeterProvider() or a configured SDK provider.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

const meterName = "github.com/aschepis/backscratcher/llmrt"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// ProviderCallDuration tracks provider call latency. Attributes:
	//   provider, stream ("true"/"false"), status
	ProviderCallDuration metric.Float64Histogram

	// RetryAttempts counts retries scheduled after a failed attempt. Attribute: provider
	RetryAttempts metric.Int64Counter

	// RateLimitWait tracks time spent waiting for a rate-limit token. Attributes: key, granted
	RateLimitWait metric.Float64Histogram

	// ToolExecutions counts function executions. Attributes: tool, status
	ToolExecutions metric.Int64Counter

	// CacheLookups counts tool cache lookups. Attribute: result ("hit"/"miss")
	CacheLookups metric.Int64Counter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderCallDuration, err = m.Float64Histogram("llmrt.provider.call.duration",
		metric.WithDescription("Latency of provider chat calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("llmrt.retry.attempts",
		metric.WithDescription("Retries scheduled after a failed provider call."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitWait, err = m.Float64Histogram("llmrt.ratelimit.wait",
		metric.WithDescription("Time spent waiting for a rate-limit token."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutions, err = m.Int64Counter("llmrt.tool.executions",
		metric.WithDescription("Function executions by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("llmrt.toolcache.lookups",
		metric.WithDescription("Tool cache lookups by result."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Noop returns metrics that record nothing.
func Noop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordProviderCall records one call's latency.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider string, stream bool, d time.Duration, err error) {
	streamAttr := "false"
	if stream {
		streamAttr = "true"
	}
	m.ProviderCallDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stream", streamAttr),
			attribute.String("status", status(err)),
		),
	)
}

// RecordRetry counts one scheduled retry.
func (m *Metrics) RecordRetry(ctx context.Context, provider string) {
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordRateLimitWait records a blocking acquire.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, key string, waited time.Duration, granted bool) {
	m.RateLimitWait.Record(ctx, waited.Seconds(),
		metric.WithAttributes(
			attribute.String("key", key),
			attribute.Bool("granted", granted),
		),
	)
}

// RecordToolExecution counts one function execution.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, err error) {
	m.ToolExecutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status(err)),
		),
	)
}

// RecordCacheLookup counts one tool cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Middleware returns provider middleware that records call latency.
func (m *Metrics) Middleware() llm.Middleware {
	return llm.MiddlewareFunc{
		AfterResponseFunc: func(ctx context.Context, call *llm.Call, resp *llm.ChatResponse) (*llm.ChatResponse, error) {
			m.RecordProviderCall(ctx, call.Provider, call.Stream, time.Since(call.StartedAt), nil)
			return resp, nil
		},
		OnErrorFunc: func(ctx context.Context, call *llm.Call, err error) error {
			m.RecordProviderCall(ctx, call.Provider, call.Stream, time.Since(call.StartedAt), err)
			return err
		},
	}
}
