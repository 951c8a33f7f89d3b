// Package auth authenticates callers of the Tuya service API.
//
// Two credentials are accepted:
//   - HS256 JWT access tokens, issued offline with "graylogic-tuya token"
//   - API keys, stored in configuration only as Argon2id PHC hashes
//
// Tokens are validated by signature and expiry alone; there is no user
// database. Verified API keys are remembered by digest so the Argon2id cost
// is paid once per key rather than once per request.
package auth
