// Package stores keeps the two records sessionkit persists through a
// kvstore.Store: the signed session envelope and the pending-confirmation list.
//
// # Design
//
// The session envelope is a versioned, signed JWT string under a single key.
// Writes are serialized with removals so a write guarded by a stale generation
// can never land after a sign-out removed the entry.
//
// Pending confirmations are a JSON document of records keyed by lower-cased
// email, updated read-modify-write under a mutex. Dismissed records older than
// the retention period are purged on the next read.
//
// # Architecture boundaries
//
// This package owns persistence only. It does NOT decide whether a restored
// session may be adopted or when confirmations are created; those decisions
// live in sessionkit and internal/flows.
//
// # What this package must NOT do
//
//   - Import sessionkit.
//   - Store provider access tokens.
package stores
