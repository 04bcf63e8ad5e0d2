// Package stubserver is an in-memory DevMatch backend implementing the REST
// and push contract the client consumes. It backs local development (-stub
// mode) and the integration tests; it is not a production server.
package stubserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"devmatch-client/internal/models"
	"devmatch-client/internal/observability"
)

// Server holds the stub's entire state behind one mutex.
type Server struct {
	mu       sync.Mutex
	users    map[string]models.User            // by user id
	byEmail  map[string]string                 // email -> user id
	tokens   map[string]string                 // bearer token -> user id
	messages []models.Message                  // append-ordered, all conversations
	conns    map[string]map[*websocket.Conn]bool // user id -> sockets
	nextID   int
}

// New builds an empty stub server.
func New() *Server {
	return &Server{
		users:   make(map[string]models.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]string),
		conns:   make(map[string]map[*websocket.Conn]bool),
	}
}

// Router builds the gin router with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("devmatch-stub"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.POST("/auth/login", s.handleLogin)
	router.POST("/auth/signup", s.handleSignup)
	router.POST("/auth/logout", s.authRequired, s.handleLogout)
	router.PUT("/auth/update-profile", s.authRequired, s.handleUpdateProfile)

	router.GET("/messages/users", s.authRequired, s.handleListPeers)
	router.GET("/messages/:peerId", s.authRequired, s.handleGetMessages)
	router.POST("/messages/send/:peerId", s.authRequired, s.handleSendMessage)

	router.GET("/ws", s.handleWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// authRequired validates the bearer token and stores the user id on the
// context.
func (s *Server) authRequired(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
		return
	}

	s.mu.Lock()
	userID, ok := s.tokens[parts[1]]
	s.mu.Unlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set("userID", userID)
	c.Next()
}

// handleLogin accepts any email/password pair; an unknown email creates the
// account on the fly, which keeps local development frictionless.
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	userID, ok := s.byEmail[req.Email]
	if !ok {
		user := s.createUserLocked("", req.Email, "")
		userID = user.ID
	}
	user := s.users[userID]
	token := uuid.NewString()
	s.tokens[token] = userID
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (s *Server) handleSignup(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if _, exists := s.byEmail[req.Email]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	user := s.createUserLocked(req.Name, req.Email, req.Role)
	token := uuid.NewString()
	s.tokens[token] = user.ID
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

func (s *Server) handleLogout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)

	s.mu.Lock()
	delete(s.tokens, parts[1])
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	s.mu.Lock()
	user := s.users[userID]
	user.Image = req.Image
	s.users[userID] = user
	s.mu.Unlock()

	c.JSON(http.StatusOK, user)
}

// handleListPeers returns every other account as a roster entry with its
// last-message preview, paginated.
func (s *Server) handleListPeers(c *gin.Context) {
	userID := c.GetString("userID")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.Lock()
	peers := make([]models.Peer, 0, len(s.users))
	for id, u := range s.users {
		if id == userID {
			continue
		}
		peers = append(peers, models.Peer{
			ID:          u.ID,
			Name:        u.Name,
			Image:       u.Image,
			LastMessage: s.lastMessageLocked(userID, id),
		})
	}
	s.mu.Unlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	totalPages := (len(peers) + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * limit
	if start > len(peers) {
		start = len(peers)
	}
	end := start + limit
	if end > len(peers) {
		end = len(peers)
	}

	c.JSON(http.StatusOK, gin.H{
		"users":      peers[start:end],
		"page":       page,
		"totalPages": totalPages,
	})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("peerId")

	s.mu.Lock()
	msgs := make([]models.Message, 0)
	for _, m := range s.messages {
		if (m.SenderID == userID && m.ReceiverID == peerID) ||
			(m.SenderID == peerID && m.ReceiverID == userID) {
			msgs = append(msgs, m)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("peerId")

	var req struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}

	s.mu.Lock()
	if _, ok := s.users[peerID]; !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}
	s.nextID++
	msg := models.Message{
		ID:         fmt.Sprintf("srv-%d", s.nextID),
		SenderID:   userID,
		ReceiverID: peerID,
		Text:       req.Text,
		Image:      req.Image,
		CreatedAt:  time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if event, err := models.NewEvent(models.EventNewMessage, msg); err == nil {
		s.deliver(peerID, event)
	}

	c.JSON(http.StatusCreated, msg)
}

// createUserLocked registers an account. Name defaults to the email local
// part and role is inferred from it when not given. Caller holds the lock.
func (s *Server) createUserLocked(name, email, role string) models.User {
	s.nextID++
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if role == "" {
		role = models.RoleProgrammer
		if strings.Contains(email, "recruiter") {
			role = models.RoleRecruiter
		}
	}
	user := models.User{
		ID:    fmt.Sprintf("usr-%d", s.nextID),
		Name:  name,
		Email: email,
		Role:  role,
	}
	s.users[user.ID] = user
	s.byEmail[email] = user.ID
	return user
}

// lastMessageLocked returns the newest message between two users, or nil.
// Caller holds the lock.
func (s *Server) lastMessageLocked(userID, peerID string) *models.Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if (m.SenderID == userID && m.ReceiverID == peerID) ||
			(m.SenderID == peerID && m.ReceiverID == userID) {
			return &m
		}
	}
	return nil
}
