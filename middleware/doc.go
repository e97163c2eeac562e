// Package middleware exposes HTTP middleware adapters that enforce session
// credentials issued by an authcore.Engine.
//
// # Guards
//
//   - [RequireCredential]: stateless credential verification, no Redis call.
//   - [RequireLive]: credential verification plus session-store liveness.
//
// Each guard reads the Authorization header, verifies the bearer credential,
// and injects the authenticated [Principal] into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into engine calls. It does NOT
// implement authentication logic itself; credential parsing is delegated to
// the configured [CredentialParser] and liveness to Engine.Validate.
package middleware
