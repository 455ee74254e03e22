// Package server exposes the authorization core over HTTP: login, token
// validation for forward-auth, refresh, logout, and permission inspection.
// Every failure maps to a 401 or 403 with a short machine-readable reason
// string and nothing else.
package server
