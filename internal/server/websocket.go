package server

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"rankarena/internal/progress"
)

// registerProgressSocket exposes live batch progress over a websocket. One
// socket follows one session; the server closes it normally when the batch
// ends.
func registerProgressSocket(router chi.Router, basePath string, hub *progress.Hub) {
	route := path.Join(basePath, "ws/progress/{session_id}")
	router.Get(route, func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			clog.FromContext(r.Context()).With("error", err.Error()).Warn("websocket accept failed")
			return
		}

		updates, cancel := hub.Subscribe(sessionID)
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusGoingAway, "server closing")
				return
			case u, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "session complete")
					return
				}
				data, err := json.Marshal(u)
				if err != nil {
					conn.Close(websocket.StatusInternalError, "encode failed")
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	})
}
