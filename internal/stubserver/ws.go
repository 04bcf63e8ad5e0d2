package stubserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"devmatch-client/internal/models"
	"devmatch-client/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerConn adds a socket for a user and returns the presence snapshot.
func (s *Server) registerConn(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[userID]; !ok {
		s.conns[userID] = make(map[*websocket.Conn]bool)
	}
	s.conns[userID][conn] = true
}

func (s *Server) removeConn(userID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conns, ok := s.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(s.conns, userID)
		}
	}
}

// onlineIDs returns the ids of users with at least one open socket.
func (s *Server) onlineIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// deliver sends an event to every socket of the given user.
func (s *Server) deliver(userID string, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("stubserver: marshal event: %v", err)
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns[userID]))
	for conn := range s.conns[userID] {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("stubserver: websocket write error: %v", err)
			conn.Close()
			s.removeConn(userID, conn)
		}
	}
}

// broadcastPresence pushes the current online snapshot to every socket.
func (s *Server) broadcastPresence() {
	ids := s.onlineIDs()
	event, err := models.NewEvent(models.EventOnlineUsers, ids)
	if err != nil {
		return
	}
	for _, id := range ids {
		s.deliver(id, event)
	}
}

// handleWS upgrades the connection for the user named in the user_id query
// parameter and keeps it registered until it closes.
func (s *Server) handleWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	ctx, span := otel.Tracer("devmatch-client/stubserver").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connectedAt := time.Now()
	requestID := observability.RequestIDFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()

	s.registerConn(userID, conn)
	s.broadcastPresence()
	_ = observability.PublishEvent(ctx, "ws_events.stub", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"user_id": userID,
			"ip":      observability.IPFromRequest(c.Request),
		},
	}, observability.BuildHeaders(requestID, traceID))

	go func() {
		defer func() {
			s.removeConn(userID, conn)
			conn.Close()
			s.broadcastPresence()
			_ = observability.PublishEvent(ctx, "ws_events.stub", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload: map[string]interface{}{
					"user_id":     userID,
					"duration_ms": time.Since(connectedAt).Milliseconds(),
				},
			}, observability.BuildHeaders(requestID, traceID))
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("stubserver: read error: %v", err)
				}
				return
			}
			s.handleClientEvent(userID, data)
		}
	}()
}

// handleClientEvent processes frames emitted by a client. A newMessage emit
// is echoed to the sender's other sockets so every local listener of that
// user observes the confirmed record.
func (s *Server) handleClientEvent(userID string, data []byte) {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("stubserver: dropping malformed client frame: %v", err)
		return
	}
	if event.Name == models.EventNewMessage {
		s.deliver(userID, event)
	}
}
