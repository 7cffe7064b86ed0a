// Package auth issues and validates the bearer tokens that guard the HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. There is no user
// store: an operator mints a token with `zonectl token` and hands it to the
// client. Each token carries a Role that maps to a fixed set of permissions:
//
//	viewer   - read controllers, enforcers and history
//	operator - viewer plus posting zone events and enforcement commands
//	admin    - operator plus reloading the controller file
package auth
