// Package metrics defines the sinks that receive inference and acquisition
// events. Implementations such as the Prometheus and InfluxDB sinks live in
// infra/metrics and register themselves by name; NewMetricsSink wraps several
// configured sinks in a MultiSink.
package metrics
