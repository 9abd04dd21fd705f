// Package otel registers Engine counters as OpenTelemetry observable
// instruments. Callers own the MeterProvider; the exporter only registers a
// callback on the Meter it is given and removes it on Close.
package otel
