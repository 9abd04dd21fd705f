// Package prometheus adapts Engine counters to the Prometheus client
// library. Register [Collector] with any registry, or mount
// [Collector.Handler] on /metrics.
package prometheus
