// Package auth provides registration tokens for edge devices and access
// tokens for operators.
//
// Registration tokens are single-use credentials minted by an operator and
// handed to a device before first boot. A token optionally binds to one
// hardware key and carries placement hints (group, location) applied at
// registration. Only the SHA-256 hash of a token is stored; the raw value is
// shown exactly once at creation. Consumption is a single conditional UPDATE
// so two concurrent registrations can never both succeed with one token.
//
// Operator access tokens are short-lived HS256 JWTs issued in exchange for
// the configured admin key and validated by signature only.
package auth
