// Package rate implements the request-admission rate limiter: fixed-window
// counters per (subjectKey, operation) pair with temporary blocks on
// overflow, plus administrative manual blocks that always take precedence.
//
// The window transition, increment, and block transition happen inside one
// Lua script; counters are hot, highly-contended keys and an application-
// level read-modify-write would race.
//
// # What this package must NOT do
//
//   - Hardcode per-operation limits; policy comes from [Config].
//   - Import authcore or any sibling package.
package rate
