// Package auth provides admin authentication primitives for Relaybox.
//
// There is one principal: the controller holding the admin secret. It can
// authenticate in two ways:
//   - the shared secret itself, configured in plain text or as an
//     Argon2id PHC hash (see HashSecret)
//   - a short-lived HS256 JWT minted in exchange for the secret
//
// Device-facing routes are not authenticated.
package auth
