// Package authcore is the authentication core of a zero-knowledge password
// vault: an SRP-style challenge/response protocol engine, a Redis-backed
// session lifecycle, and the admission layer (rate limiting plus behavioral
// anomaly detection) that gates every authentication attempt. The server
// proves possession of a password-derived secret without ever seeing or
// storing the password itself.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors, and value types. All internal coordination (credential
// and challenge stores, rate limiting, anomaly dispatch, audit dispatch)
// lives under internal/ and is never exported. The SRP group math is an
// injected capability ([SRPServer]); this package never touches bignum
// arithmetic.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Serialize a challenge's server-side ephemeral secret to any caller,
//     sink, or log.
//   - Block an authentication request on anomaly detection; the detector is
//     advisory and runs out-of-band.
package authcore
