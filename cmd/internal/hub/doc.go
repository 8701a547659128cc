// Package hub is the HTTP client for a Ripple push hub.
//
// It implements the collaborator contracts the sync engine consumes: token
// issuance, paginated history, message send, and the live push transports
// (server-sent events by default, websocket as the alternate).
package hub
