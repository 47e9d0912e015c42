// Package httpapi exposes a sessionkit Manager over HTTP with gin.
//
// It is a presentation adapter: every decision (validation, throttling, state
// transitions, error classification) is made by the Manager and its
// RecoveryControllers. Handlers only translate JSON bodies into calls and
// taxonomy errors into status codes. Recovery controllers are kept in memory
// and bound to the caller with a signed cookie session.
//
// # Architecture boundaries
//
// The Manager owns a single current Session, so this adapter suits a local
// agent or a single-user deployment. Multi-tenant servers wrap one Manager per
// principal outside this package.
//
// # What this package must NOT do
//
//   - Re-implement validation or throttling.
//   - Put secrets, codes or access tokens into responses or logs.
//   - Persist recovery controllers.
package httpapi
