// Package session implements the vault's session records and their Redis
// storage.
//
// Sessions have a fixed lifetime set at creation and are never extended;
// heartbeats only refresh the activity timestamp. The active flag is
// one-way: once a session is terminated (by the user, an operator, or
// expiry) no code path sets it back. All transitions that depend on the
// current flag run inside Lua scripts so concurrent writers observe a
// single atomic flip.
//
// Records are kept after logical expiry so validation can tell an expired
// session apart from one that never existed. Growth is bounded two ways: a
// hard retention TTL on every record, and a per-subject cap that deletes
// the oldest records once the subject exceeds it.
package session
