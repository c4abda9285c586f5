// Package prometheus exposes authcore engine metrics as a
// prometheus.Collector.
//
// Counter names are prefixed authcore_*_total; the single histogram is
// authcore_validate_latency_seconds. With WithQueueDepth the exporter also
// reports the delivery backlog as gauges.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register the
//     Exporter or mount Handler.
//   - Mutate engine state.
package prometheus
