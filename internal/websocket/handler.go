package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// SnapshotFunc returns the state sent to a client right after it connects.
type SnapshotFunc func() any

// HandleWebSocket upgrades connections and runs them as hub clients. Each new
// client first receives a "snapshot" message when snapshot is set.
func HandleWebSocket(hub *Hub, allowedOrigins []string, snapshot SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: allowedOrigins,
		})
		if err != nil {
			hub.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept")
			return
		}

		client := NewClient(hub, conn)
		client.Run(r.Context(), snapshot)
	}
}
