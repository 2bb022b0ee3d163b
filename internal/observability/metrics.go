package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used across the pipeline.
// Instruments are created once at startup and shared with the reader,
// workers, and checkpoint coordinator.
type Metrics struct {
	// Record flow metrics
	RecordsRead     otelmetric.Int64Counter
	RecordsAccepted otelmetric.Int64Counter
	RecordsDropped  otelmetric.Int64Counter

	// Checkpoint metrics
	CheckpointsCompleted otelmetric.Int64Counter
	CheckpointDuration   otelmetric.Float64Histogram

	// Output segment metrics
	SegmentsPublished otelmetric.Int64Counter
	SegmentBytes      otelmetric.Int64Histogram

	// Recovery metrics
	PipelineRestarts otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
// Each instrument is created with a descriptive name, unit, and description
// following OpenTelemetry semantic conventions.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	m.RecordsRead, err = meter.Int64Counter(
		"archiver.records.read",
		otelmetric.WithDescription("Records read from the input stream"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsAccepted, err = meter.Int64Counter(
		"archiver.records.accepted",
		otelmetric.WithDescription("Records accepted by deduplication"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsDropped, err = meter.Int64Counter(
		"archiver.records.dropped",
		otelmetric.WithDescription("Records dropped as duplicate or out of order"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckpointsCompleted, err = meter.Int64Counter(
		"archiver.checkpoints.completed",
		otelmetric.WithDescription("Checkpoints committed"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckpointDuration, err = meter.Float64Histogram(
		"archiver.checkpoint.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Barrier-to-commit checkpoint duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.SegmentsPublished, err = meter.Int64Counter(
		"archiver.segments.published",
		otelmetric.WithDescription("Output segments published"),
	)
	if err != nil {
		return nil, err
	}

	m.SegmentBytes, err = meter.Int64Histogram(
		"archiver.segment.bytes",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Published segment size in bytes"),
	)
	if err != nil {
		return nil, err
	}

	m.PipelineRestarts, err = meter.Int64Counter(
		"archiver.pipeline.restarts",
		otelmetric.WithDescription("Pipeline restarts from the last checkpoint"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
