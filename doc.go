// Package sessionkit manages the lifecycle of one authenticated session: which
// authentication mode produced it, restoring it at start-up, invalidating it,
// throttling sensitive operations and the multi-step password-recovery protocol.
//
// A [Manager] is built with [Builder] and owns a single current [Session].
// Two authentication modes coexist. Embedded mode checks a fixed allow-list
// from [Config]; delegated mode talks to an [IdentityProvider], a
// [ProfileProvider] and a [CodeIssuer]. The embedded allow-list is always
// tried first and is never rate limited.
//
// Manager methods are safe to call from multiple goroutines. State changes are
// ordered by a generation counter: a result computed under an older generation
// is discarded instead of overwriting newer state.
//
// # Architecture boundaries
//
// sessionkit is the public surface: [Manager], [RecoveryController], [Builder],
// [Config], the error taxonomy and value types. Orchestration lives in
// internal/flows, persistence in internal/stores on top of [kvstore.Store],
// throttling in package ratelimit and field rules in package validate.
//
// # What this package must NOT do
//
//   - Render anything or assume a UI. Presentation adapters (transport/httpapi)
//     sit on top of the Manager.
//   - Know a provider's wire format. Providers are consumed through interfaces.
//   - Clear store keys outside Session.KeyPrefix.
//   - Put secrets, codes or access tokens into logs, audit events or the store.
package sessionkit
