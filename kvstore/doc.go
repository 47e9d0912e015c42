// Package kvstore provides the string-keyed, string-valued storage the session
// manager persists its state through.
//
// # Backends
//
//   - [Memory]: process-local map, the default.
//   - [Redis]: go-redis client, values stored under a key prefix.
//   - [LevelDB]: on-disk store for single-process deployments.
//
// All backends are safe for concurrent use. Operations on different keys never
// wait on each other; each individual operation on one key is atomic. No
// transactions are offered across keys.
//
// # What this package must NOT do
//
//   - Interpret the values it stores.
//   - Import sessionkit (no upward imports).
package kvstore
