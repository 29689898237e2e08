package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader uses a permissive CheckOrigin: cross-origin restriction is
// handled by corsMiddleware for the plain HTTP routes and this endpoint
// has no cookie-based auth to protect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamResponse wraps one query's result (or a stream-level error) for
// the WebSocket protocol: a client sends any number of QueryRequest
// messages over one connection and gets one streamResponse per request.
type streamResponse struct {
	Type   string         `json:"type"` // "result" or "error"
	Result *QueryResponse `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// handleQueryStream upgrades to a WebSocket and evaluates one query per
// inbound JSON message until the client disconnects.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("query stream: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(resp streamResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(resp)
	}

	for {
		var req QueryRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		resp, err := s.runQuery(req)
		if err != nil {
			if writeErr := write(streamResponse{Type: "error", Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		if err := write(streamResponse{Type: "result", Result: resp}); err != nil {
			return
		}
	}
}
