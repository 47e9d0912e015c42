// Package internal holds the parts of sessionkit that are not public API.
//
// # Sub-packages
//
//   - flows: dependency-struct orchestrators for sign-in, registration and the
//     recovery steps
//   - stores: the signed session cache and pending-confirmation records on top
//     of kvstore
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionkit API.
//   - Be imported by any package outside the sessionkit module.
package internal
