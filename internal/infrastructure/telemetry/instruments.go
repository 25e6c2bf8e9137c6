package telemetry

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when instruments are requested from a nil meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Instruments creates instruments on one meter and remembers the first
// failure, so a constructor can declare all of them and check Err once.
type Instruments struct {
	meter metric.Meter
	err   error
}

func NewInstruments(meter metric.Meter) *Instruments {
	in := &Instruments{meter: meter}
	if meter == nil {
		in.err = ErrMeterNil
	}
	return in
}

func (in *Instruments) Err() error {
	return in.err
}

func (in *Instruments) Counter(name, description, unit string) metric.Int64Counter {
	if in.err != nil {
		return nil
	}
	c, err := in.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	in.fail(name, err)
	return c
}

func (in *Instruments) UpDownCounter(name, description, unit string) metric.Int64UpDownCounter {
	if in.err != nil {
		return nil
	}
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	in.fail(name, err)
	return c
}

// Histogram creates a float histogram with explicit bucket boundaries
func (in *Instruments) Histogram(name, description, unit string, buckets []float64) metric.Float64Histogram {
	if in.err != nil {
		return nil
	}
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	in.fail(name, err)
	return h
}

func (in *Instruments) fail(name string, err error) {
	if err != nil && in.err == nil {
		in.err = fmt.Errorf("failed to create instrument %s: %w", name, err)
	}
}

// Attrs wraps attributes as a measurement option
func Attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(kv...)
}

// Metric attribute keys
var (
	AttrImportType      = attribute.Key("import_type")
	AttrStatus          = attribute.Key("status")
	AttrFailureCategory = attribute.Key("failure_category")
	AttrPhase           = attribute.Key("phase")
	AttrOutcome         = attribute.Key("outcome")
)

// Bucket boundaries
var (
	// HTTPDurationBuckets in seconds
	HTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// ImportDurationBuckets span phases from under a second to two hours
	ImportDurationBuckets = []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200}

	// SizeBuckets cover uploads from 1KB up to the 256MB file limit
	SizeBuckets = []float64{1 << 10, 1 << 14, 1 << 17, 1 << 20, 1 << 23, 1 << 26, 1 << 28}
)
