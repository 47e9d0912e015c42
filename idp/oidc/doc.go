// Package oidc adapts an OpenID Connect issuer to sessionkit's delegated mode.
//
// Sign-in uses the OAuth 2.0 resource-owner password grant; the ID token in the
// token response is verified and its subject becomes the RemoteSession subject.
// Profiles come from the UserInfo endpoint when one is configured, otherwise from
// the verified ID token claims.
//
// # Architecture boundaries
//
// The adapter keeps tokens in memory only. Persisting sessions is the Manager's
// job.
//
// # What this package must NOT do
//
//   - register identities or resend confirmations (issuers do not expose this)
//   - issue recovery codes
//   - log tokens or secrets
package oidc
