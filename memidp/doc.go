// Package memidp is an in-memory identity provider. It implements
// sessionkit.IdentityProvider, sessionkit.ProfileProvider and
// sessionkit.CodeIssuer, and is meant for demos, the CLI's serve command and
// tests.
//
// Secrets are stored as bcrypt hashes. Recovery codes are six random digits,
// single-use and bound to the email they were issued for. Provider events are
// only delivered through [Provider.Emit]; SignIn and SignOut do not emit.
//
// Test hooks ([Provider.InjectFault], [Provider.Hold], [Provider.Code],
// [Provider.Revoked]) let callers drive failure and timing scenarios.
package memidp
