// Package flows contains pure-function orchestrators for the Manager's sign-in,
// registration and recovery operations.
//
// Each flow function (RunSignIn, RunRegister, RunRecoveryVerify, etc.) accepts
// a typed dependency struct and returns results without side effects beyond
// those dependencies. This keeps the Manager thin and lets every branch be
// tested with plain function fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate validation, rate limiting, provider calls, audit
// and metrics. They do NOT own any of these resources and never touch the
// Manager's current session; committing a result is the caller's job.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls. Recovery flows mutate only the
//     RecoveryState they are handed.
//   - Import sessionkit (to avoid import cycles).
//   - Perform I/O directly; all I/O goes through dependency functions.
package flows
