// Package sessions provides session and refresh-token lifecycle primitives
// (opaque rotation chains, revocation cascades, role-gated admission) backed
// by Bun repositories.
//
// Rotation chains:
//   - Every session owns one refresh-token chain: a root minted at login and
//     a strict line of descendants. Rotate consumes the presented token with
//     a compare-and-set on rotated_at, so concurrent redemptions produce
//     exactly one winner. Only SHA-256 digests of the opaque values are ever
//     stored.
//
// Revocation:
//   - Revoker applies a cascade per session: the session row, its redeemable
//     tokens, and a SessionRevocation audit shadow commit atomically. The
//     cascade is idempotent; re-running it changes nothing.
//
// Admission:
//   - Gate re-validates the credential, role claim, membership effectiveness,
//     and session liveness on every request. Denials are deliberately generic
//     so callers cannot probe which check failed. Wire it into go-router via
//     the middleware/gateware package.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the session
//     manager, chain engine, revoker, and command handlers. Sinks run
//     best-effort (errors are logged) so you can forward to a database or
//     queue without blocking the lifecycle transaction.
package sessions
