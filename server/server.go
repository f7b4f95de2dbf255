package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tourchat/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	db         *db.DB
	config     *ServerConfig
	log        *zap.Logger
	rooms      map[int64]map[*peer]struct{}
	mu         sync.RWMutex
	httpServer *http.Server
}

type ServerConfig struct {
	Addr         string
	MediaDir     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func New(database *db.DB, config *ServerConfig, log *zap.Logger) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.MediaDir == "" {
		config.MediaDir = "media"
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		db:     database,
		config: config,
		log:    log,
		rooms:  make(map[int64]map[*peer]struct{}),
	}
}

// Router builds the HTTP surface: REST collaborators, the chat channel
// endpoint and uploaded media.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.POST("/auth/users/", s.handleRegister)
	r.POST("/auth/jwt/create/", s.handleLogin)

	authed := r.Group("/", s.requireUser())
	authed.GET("/auth/users/me/", s.handleMe)
	authed.GET("/api/conversations/", s.handleConversations)
	authed.GET("/api/conversations/:id/messages/", s.handleMessages)
	authed.POST("/api/conversations/:id/messages/:mid/attachments/", s.handleAttachment)
	authed.POST("/api/messages/", s.handleCreateMessage)
	authed.GET("/ws/chat/:id/", s.handleChatSocket)

	r.Static("/media", s.config.MediaDir)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("tourchat server started", zap.String("addr", s.config.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and disconnects every channel peer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	var peers []*peer
	for _, room := range s.rooms {
		for p := range room {
			peers = append(peers, p)
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	s.mu.RLock()
	connections := 0
	seen := make(map[string]bool)
	for _, room := range s.rooms {
		connections += len(room)
		for p := range room {
			seen[p.user.Username] = true
		}
	}
	rooms := len(s.rooms)
	s.mu.RUnlock()

	var users []string
	for name := range seen {
		users = append(users, name)
	}
	sort.Strings(users)

	stats := "connections=" + strconv.Itoa(connections) +
		",rooms=" + strconv.Itoa(rooms) +
		",users=" + strings.Join(users, ";")

	if u, c, m, err := s.db.Stats(); err == nil {
		stats += ",accounts=" + strconv.Itoa(u) +
			",conversations=" + strconv.Itoa(c) +
			",messages=" + strconv.Itoa(m)
	}
	return stats
}
