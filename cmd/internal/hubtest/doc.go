// Package hubtest provides an in-process push hub used by tests and the
// smoke binary.
//
// It implements the full collaborator surface the engine consumes — token
// issuance (short-lived HS256 JWTs), paginated history, send with fanout,
// and both push transports (server-sent events and websocket) — backed by
// an in-memory per-topic store. It is not a production hub: no persistence,
// single process, permissive origins.
package hubtest
