// Package otel binds a sessionkit Manager to an OpenTelemetry Meter.
//
// [New] registers observable instruments and one callback that reads
// [sessionkit.Manager.Lifecycle] and [sessionkit.Manager.MetricsSnapshot] on
// each collection cycle. The lifecycle state and session mode are one-hot
// gauges keyed by the state and mode attributes; restore latency buckets are a
// gauge keyed by le.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate Manager state.
package otel
