// Package validate holds the credential field rules used before any request
// reaches an identity provider, plus a per-field [Debouncer].
//
// Every rule is a pure function returning a [Result]; Message is empty when the
// value is valid and is safe to show to an end user otherwise.
//
// # What this package must NOT do
//
//   - Perform I/O or consult any provider.
//   - Log; a rejected field is not an incident.
package validate
