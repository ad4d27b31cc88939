// Package telemetry records capture-health metrics through the OpenTelemetry
// metric API. With no meter provider configured the global no-op provider is
// used and every call is free.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dev-console/pagetap"

// Metrics holds the pagetap instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	events     metric.Int64Counter
	faults     metric.Int64Counter
	duplicates metric.Int64Counter
	inflight   metric.Int64UpDownCounter
}

// New creates the instruments on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	events, err := meter.Int64Counter("pagetap.events",
		metric.WithDescription("Events appended to the session buffer"))
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}
	faults, err := meter.Int64Counter("pagetap.capture.faults",
		metric.WithDescription("Capture faults caught and discarded"))
	if err != nil {
		return nil, fmt.Errorf("create faults counter: %w", err)
	}
	duplicates, err := meter.Int64Counter("pagetap.network.duplicate_terminals",
		metric.WithDescription("Terminal network signals dropped because the request already completed"))
	if err != nil {
		return nil, fmt.Errorf("create duplicates counter: %w", err)
	}
	inflight, err := meter.Int64UpDownCounter("pagetap.network.inflight",
		metric.WithDescription("Network requests started but not yet terminated"))
	if err != nil {
		return nil, fmt.Errorf("create inflight counter: %w", err)
	}
	return &Metrics{events: events, faults: faults, duplicates: duplicates, inflight: inflight}, nil
}

// EventAppended counts one buffered event of the given kind and tag.
func (m *Metrics) EventAppended(kind, tag string) {
	if m == nil {
		return
	}
	m.events.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("tag", tag),
	))
}

// Fault counts one capture fault at the named site.
func (m *Metrics) Fault(site string) {
	if m == nil {
		return
	}
	m.faults.Add(context.Background(), 1, metric.WithAttributes(attribute.String("site", site)))
}

// DuplicateTerminal counts one suppressed terminal signal.
func (m *Metrics) DuplicateTerminal() {
	if m == nil {
		return
	}
	m.duplicates.Add(context.Background(), 1)
}

// InFlight adjusts the in-flight request gauge.
func (m *Metrics) InFlight(delta int64) {
	if m == nil {
		return
	}
	m.inflight.Add(context.Background(), delta)
}
