package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flemzord/baton/internal/event"
)

// handleRunStream upgrades to a websocket and forwards run lifecycle
// events as JSON text messages. The stream is one-way; client frames are
// discarded, and closing the connection ends the subscription.
func (g *Gateway) handleRunStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		// CloseRead drains client frames and cancels the context when the
		// peer goes away.
		ctx := conn.CloseRead(r.Context())

		events, cancel := g.hub.Subscribe(event.DefaultBuffer)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "client closed")
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	}
}
