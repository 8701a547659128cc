// Package stream implements the client-side realtime sync engine.
//
// It maintains a live, ordered, deduplicated view of a per-conversation
// message stream (or a per-user notification stream) by merging two
// producers into one owned collection:
//
//   - paginated REST history, loaded on open and on backward scroll
//     (Pager), and
//   - push events arriving over a live subscription (Subscriber),
//     authorized by a short-lived rotating token (TokenSession).
//
// Session and Feed are the orchestrators that wire the pieces together for
// one active topic at a time. All collaborator I/O (token issuance, history
// fetch, send, push transport) sits behind interfaces so the engine can be
// driven against fakes or an in-process hub.
package stream
