// Package jwt mints and validates the signed session credentials handed to
// clients after a successful proof verification.
//
// A credential is a bearer statement that a session existed at mint time
// with a given owner and expiry. It is deliberately thin: revocation,
// activity tracking, and the one-way inactive transition all live in the
// session store, and any caller needing those guarantees must validate the
// session there in addition to parsing the credential.
package jwt
