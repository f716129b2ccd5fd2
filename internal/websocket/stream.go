package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Auth happens before the upgrade.
	},
}

// statusPushInterval paces the pairing stream updates.
const statusPushInterval = time.Second

// StreamServer is a plain WebSocket endpoint that pushes a session's
// lifecycle status and pending QR challenge until the client disconnects.
// It exists for pairing UIs that cannot speak Socket.IO.
type StreamServer struct {
	registry *session.Registry
	clients  map[*websocket.Conn]string
	mu       sync.RWMutex
}

// StatusFrame is one pushed stream update.
type StatusFrame struct {
	SessionID string               `json:"sessionId"`
	Status    session.Status       `json:"status"`
	QR        *session.QRChallenge `json:"qr,omitempty"`
}

// NewStreamServer creates a stream server over the session registry.
func NewStreamServer(registry *session.Registry) *StreamServer {
	return &StreamServer{
		registry: registry,
		clients:  make(map[*websocket.Conn]string),
	}
}

// HandleStream upgrades the connection and pushes status frames for the
// session named in the route until the peer goes away.
func (s *StreamServer) HandleStream(c *gin.Context) {
	sessionID := c.Param("id")
	if s.registry.Get(sessionID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients[conn] = sessionID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	logger.Debugf("stream client connected for session %s", sessionID)

	// The read pump only detects the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Tracef("stream read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Debugf("stream client disconnected for session %s", sessionID)
			return
		case <-ticker.C:
			handle := s.registry.Get(sessionID)
			if handle == nil {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session removed"),
					time.Now().Add(time.Second))
				return
			}
			frame := StatusFrame{
				SessionID: sessionID,
				Status:    handle.Status(),
				QR:        handle.QR(),
			}
			if err := conn.WriteJSON(frame); err != nil {
				logger.Tracef("stream write error: %v", err)
				return
			}
		}
	}
}
