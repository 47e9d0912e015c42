// Package prometheus renders a sessionkit Manager in Prometheus text
// exposition format.
//
// [New] reads from a [sessionkit.Manager] and exposes an [http.Handler].
// Every scrape reports the lifecycle state, the current session mode and age,
// and the pending confirmation count. Audit queue totals follow when auditing
// is enabled, and the sessionkit_*_total counters plus the
// sessionkit_restore_latency_seconds histogram when metrics are enabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate Manager state.
package prometheus
