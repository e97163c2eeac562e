// Package stores contains the Redis-backed credential and challenge stores.
//
// Records are encoded as versioned binary blobs (length-prefixed fields,
// big-endian integers). Challenge consumption is a single GETDEL so a
// challenge can never be redeemed twice; credential replacement is a
// WATCH-based compare-and-swap so salt and verifier always change together.
//
// # What this package must NOT do
//
//   - Interpret SRP values. Salt, verifier, and ephemerals are opaque bytes.
//   - Import authcore or any sibling package.
package stores
