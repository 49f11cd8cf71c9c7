package live

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/proctor/pkg/logger"
)

// Handler upgrades dashboard connections. Authorization happens before it.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts origins in allowed; an empty list accepts any origin.
func NewHandler(hub *Hub, allowed []string) *Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(set) == 0 {
					return true
				}
				_, ok := set[origin]
				return ok
			},
		},
	}
}

// ServeHTTP upgrades the request. The optional examId query parameter
// narrows the feed to one exam.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.hub.log.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	NewClient(h.hub, conn, r.URL.Query().Get("examId")).Start()
}
