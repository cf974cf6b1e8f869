// Package auth provides the account store and session tokens for the web
// interface.
//
// It implements:
//   - Username-keyed accounts in SQLite, unique ignoring case
//   - Argon2id password hashing in PHC string format
//   - HS256 JWT session tokens carrying the session identity
//
// The relay never sees passwords or tokens; it receives the Identity that
// the API's session guard extracts from a verified token.
package auth
