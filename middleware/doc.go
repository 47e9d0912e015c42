// Package middleware exposes net/http guards that admit a request only while a
// sessionkit.Manager holds a current Session.
//
// # Guards
//
//   - [Guard] rejects requests with 401 unless the Manager is authenticated.
//   - [RequireRole] additionally rejects other roles with 403.
//
// Each guard snapshots the current Session once and injects it into the request
// context, readable with [SessionFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Manager reads. It does NOT
// authenticate anything itself; every decision comes from Manager.Current.
//
// # What this package must NOT do
//
//   - Sign in, sign out or touch the session store.
//   - Expose the access token of the injected Session to handlers' responses.
//   - Make authorization decisions beyond "is there a session and whose is it".
package middleware
