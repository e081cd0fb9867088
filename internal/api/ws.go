package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// LiveUpdates handles GET /ws.
// Each connection registers one hub subscriber. The write loop pushes
// broadcast messages; a concurrent read loop exists only to notice the
// client going away (inbound frames carry no application data).
func (h *Handlers) LiveUpdates(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.Logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	sub := h.Hub.Connect()
	if sub == nil {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.Hub.Disconnect(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain inbound frames; Read fails when the peer disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				// Hub shut down.
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
