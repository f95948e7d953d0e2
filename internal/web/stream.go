package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/linasec/lina/internal/executor"
	"github.com/linasec/lina/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local tool surface, not exposed publicly
		return true
	},
}

// streamMessage is one websocket frame of an execution stream
type streamMessage struct {
	Type     string `json:"type"` // "chunk" or "terminal"
	Chunk    string `json:"chunk,omitempty"`
	State    string `json:"state,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// handleExecutionStream upgrades to a websocket and relays the execution's
// output: incremental chunks in process order, then exactly one terminal
// frame, then a close message.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	events, stop, err := s.orchestrator.Subscribe(id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		stop()
		logger.Error("web: websocket upgrade failed: %v", err)
		return
	}

	go s.streamEvents(conn, id, events, stop)
}

func (s *Server) streamEvents(conn *websocket.Conn, id string, events <-chan executor.Event, stop func()) {
	defer conn.Close()
	defer stop()

	// reader only consumes control frames; a client close ends the stream
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			msg := streamMessage{}
			if ev.Terminal {
				msg.Type = "terminal"
				msg.State = string(ev.State)
				code := ev.ExitCode
				msg.ExitCode = &code
			} else {
				msg.Type = "chunk"
				msg.Chunk = ev.Chunk
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("web: stream %s write failed: %v", id, err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-clientGone:
			return
		}
	}
}
