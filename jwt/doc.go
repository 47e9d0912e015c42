// Package jwt signs and verifies the session envelopes that sessionkit writes to
// its key-value store, so a tampered or foreign cache entry is never adopted.
//
// Supported algorithms are HS256 and Ed25519. Verification pins the configured
// algorithm and, when VerifyKeys is set, selects the key by the "kid" header.
package jwt
