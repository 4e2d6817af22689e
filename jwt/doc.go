// Package jwt mints and reads ID tokens. Identity providers use Manager to
// issue tokens; the session layer uses ReadClaims and IssuedAt to learn a
// token's age without holding verification keys.
package jwt
