// Package token implements the token authority: issuing, verifying,
// refreshing, and revoking signed bearer tokens.
//
// Access tokens are short-lived and embed the principal id, handle, and
// role name. Refresh tokens carry minimal claims and live longer. Every
// issued access token gets a session record keyed by the SHA-256 hash of
// the raw token; revocation stores the same hash so a logout takes effect
// immediately regardless of the token's remaining lifetime.
//
// Verification checks the revocation set before the signature. A revoked
// token is rejected as revoked even when it would also fail signature or
// expiry checks, and the revocation lookup always goes to the store.
package token
