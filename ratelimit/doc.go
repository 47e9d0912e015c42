// Package ratelimit provides sliding-window attempt counters keyed by arbitrary
// strings such as "login:alice@example.com".
//
// # Window semantics
//
// Each key holds an ordered list of attempt timestamps. [Limiter.IsAllowed]
// purges entries older than now-window before counting and never records an
// attempt itself; callers record with [Limiter.RecordAttempt] only once an
// attempt is definite. A key is denied while the number of timestamps inside
// the trailing window is >= MaxAttempts.
//
// # Backends
//
//   - [Memory]: per-key mutex; operations on different keys never share a lock.
//   - [Redis]: one sorted set per key, key names hashed with BLAKE3.
//
// # What this package must NOT do
//
//   - Decide what a denial means; callers map it to their own errors.
//   - Import sessionkit.
package ratelimit
