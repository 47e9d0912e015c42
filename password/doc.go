// Package password hashes and verifies embedded-identity secrets with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// These are the values accepted in an embedded identity's secret_hash field and
// produced by `sessionkit hash-secret`.
//
// # What this package must NOT do
//
//   - Enforce secret policy; that belongs to package validate.
//   - Import any other sessionkit package.
//   - Log secrets or hash parameters.
package password
