package hubtest

import (
	"net/http"

	"github.com/coder/websocket"
)

// handleSubscribeWS serves the websocket flavor of the subscribe endpoint:
// the same frames the SSE endpoint carries in data fields, one text frame
// per event.
func (h *Hub) handleSubscribeWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "topic required")
		return
	}
	if status, ok := h.authorizeSubscribe(r, topic); !ok {
		writeError(w, status, "unauthorized", "subscribe rejected")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Fixture hub: clients are in-process, origin policy is moot.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "hub shutting down")

	id, ch := h.register(topic)
	defer h.unregister(topic, id)
	h.log.Debug("hubtest.subscribe", "topic", topic, "transport", "ws", "sub", id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-ch:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}
