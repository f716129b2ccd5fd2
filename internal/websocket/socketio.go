package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/wagate/server/internal/crypto"
	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/session"
)

// SocketIOServer pushes session events to connected operator clients. It
// implements session.RealtimeSink.
type SocketIOServer struct {
	jwtManager *crypto.JWTManager
	server     *socket.Server
	socketData sync.Map // socket ID -> *SocketData
}

// SocketData stores connection metadata for each socket.
type SocketData struct {
	ClientID string
	// SessionID scopes the subscription; empty means all sessions.
	SessionID string
	Socket    *socket.Socket
}

// NewSocketIOServer creates a Socket.IO server with handshake auth.
func NewSocketIOServer(jwtManager *crypto.JWTManager) *SocketIOServer {
	opts := socket.DefaultServerOptions()

	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})

	// SocketIOPingInterval defines how frequently the server pings clients to
	// detect stale/disconnected sockets.
	const SocketIOPingInterval = 5 * time.Second

	// SocketIOPingTimeout defines how long the server waits before considering
	// a socket dead (no pong received).
	const SocketIOPingTimeout = 15 * time.Second

	opts.SetPingTimeout(SocketIOPingTimeout)
	opts.SetPingInterval(SocketIOPingInterval)
	opts.SetPath("/v1/events")

	server := socket.NewServer(nil, opts)

	s := &SocketIOServer{
		jwtManager: jwtManager,
		server:     server,
		socketData: sync.Map{},
	}

	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})

	return s
}

// authPayload is the handshake auth shape sent by clients.
type authPayload struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	logger.Infof("Socket.IO connection attempt (socket ID: %s)", socketID)

	handshake := client.Handshake()

	authMap := handshake.Auth
	if len(authMap) == 0 {
		logger.Warnf("Socket.IO missing auth data (socket %s)", socketID)
		client.Emit("error", map[string]string{"message": "Missing authentication data"})
		client.Disconnect(true)
		return
	}

	var auth authPayload
	if err := decodeAny(authMap, &auth); err != nil {
		logger.Warnf("Socket.IO invalid auth data (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "Invalid authentication data"})
		client.Disconnect(true)
		return
	}

	claims, err := s.jwtManager.VerifyToken(auth.Token)
	if err != nil {
		logger.Warnf("Socket.IO invalid token (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "Invalid authentication token"})
		client.Disconnect(true)
		return
	}

	// Do not log the handshake auth payload; it contains a bearer token.
	logger.Debugf("Socket.IO client ready (client: %s, sessionId: %q, socket: %s)",
		claims.Subject, auth.SessionID, socketID)

	s.socketData.Store(socketID, &SocketData{
		ClientID:  claims.Subject,
		SessionID: auth.SessionID,
		Socket:    client,
	})

	client.On("disconnect", func(...any) {
		s.socketData.Delete(socketID)
		logger.Tracef("Socket.IO client disconnected (socket %s)", socketID)
	})
}

// Publish emits one session event to every socket subscribed to the
// session. Sockets with no session scope receive all sessions' events.
func (s *SocketIOServer) Publish(sessionID string, category session.EventCategory, payload any) error {
	event := map[string]any{
		"sessionId": sessionID,
		"type":      category,
		"payload":   payload,
	}

	s.socketData.Range(func(key, value any) bool {
		sd, ok := value.(*SocketData)
		if !ok || sd.Socket == nil {
			return true
		}
		if sd.SessionID != "" && sd.SessionID != sessionID {
			return true
		}
		logger.Tracef("Emitting %s for session %s to socket %v", category, sessionID, key)
		sd.Socket.Emit("event", event)
		return true
	})
	return nil
}

// Disconnect closes every socket scoped to the given session. Unscoped
// sockets stay connected.
func (s *SocketIOServer) Disconnect(sessionID string) {
	s.socketData.Range(func(key, value any) bool {
		sd, ok := value.(*SocketData)
		if !ok || sd.Socket == nil || sd.SessionID != sessionID {
			return true
		}
		sd.Socket.Emit("session-closed", map[string]string{"sessionId": sessionID})
		sd.Socket.Disconnect(true)
		s.socketData.Delete(key)
		return true
	})
}

// HandleSocketIO creates a Gin handler for the Socket.IO endpoint.
func (s *SocketIOServer) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")

		if c.Request.Method == "OPTIONS" {
			c.Status(http.StatusOK)
			return
		}

		logger.Tracef("Socket.IO request: %s %s", c.Request.Method, c.Request.URL.Path)

		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the Socket.IO server.
func (s *SocketIOServer) Close() error {
	s.server.Close(nil)
	return nil
}
