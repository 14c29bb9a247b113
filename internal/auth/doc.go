// Package auth provides token authentication and authorisation for the
// lightlink control API.
//
// It implements a two-tier role model (viewer → operator) with:
//   - HS256 JWT access tokens carrying the caller's role
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Tokens are minted out of band with `lightlink token` using the configured
// signing secret. There are no user accounts or refresh tokens; a token is
// valid until it expires.
package auth
