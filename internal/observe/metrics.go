// Package observe holds the OpenTelemetry instruments for the voice loop.
//
// Instruments are created through the OTel metrics API. [InitProvider]
// installs a MeterProvider backed by the Prometheus exporter so the control
// server can serve them at /metrics. Tests should build their own provider
// and call [NewMetrics] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voxloop"

// Stage names used with the stage attribute.
const (
	StageRecord     = "record"
	StageTranscribe = "transcribe"
	StageReply      = "reply"
	StageSpeak      = "speak"
	StageDeliver    = "deliver"
)

type Metrics struct {
	// Utterances counts finished captures by stop reason.
	Utterances metric.Int64Counter

	// CaptureFaults counts captures aborted by a device error.
	CaptureFaults metric.Int64Counter

	// Overflows counts reads that reported dropped input samples.
	Overflows metric.Int64Counter

	// StageDuration tracks per-stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// StageErrors counts failed stages. Attribute: stage.
	StageErrors metric.Int64Counter

	// UtteranceSeconds tracks the length of captured speech.
	UtteranceSeconds metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Utterances, err = m.Int64Counter("voxloop.utterances",
		metric.WithDescription("Finished captures by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFaults, err = m.Int64Counter("voxloop.capture.faults",
		metric.WithDescription("Captures aborted by an audio device error."),
	); err != nil {
		return nil, err
	}
	if met.Overflows, err = m.Int64Counter("voxloop.capture.overflows",
		metric.WithDescription("Reads that reported dropped input samples."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("voxloop.stage.duration",
		metric.WithDescription("Latency of each pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("voxloop.stage.errors",
		metric.WithDescription("Failed pipeline stages."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceSeconds, err = m.Float64Histogram("voxloop.utterance.length",
		metric.WithDescription("Length of captured speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 20, 30, 60),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics uses the global MeterProvider, so call it after
// InitProvider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func stageAttr(stage string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stage", stage))
}

func (m *Metrics) RecordUtterance(ctx context.Context, reason string, length time.Duration) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if length > 0 {
		m.UtteranceSeconds.Record(ctx, length.Seconds())
	}
}

func (m *Metrics) RecordFault(ctx context.Context) {
	m.CaptureFaults.Add(ctx, 1)
}

func (m *Metrics) RecordOverflow(ctx context.Context) {
	m.Overflows.Add(ctx, 1)
}

// RecordStage records the duration since start and, when err is non-nil, an
// error for the stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time, err error) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(), stageAttr(stage))
	if err != nil {
		m.StageErrors.Add(ctx, 1, stageAttr(stage))
	}
}
