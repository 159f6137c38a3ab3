// Package auth authenticates the operator of a droidpanel instance.
//
// A panel has one operator account configured as a username and an
// Argon2id PHC hash. A successful login yields a short-lived HS256 JWT
// that the API accepts as a Bearer token or, for WebSocket upgrades, as a
// query parameter. Tokens are validated by signature and expiry only.
package auth
