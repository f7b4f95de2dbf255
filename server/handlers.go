package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tourchat/db"
	"tourchat/models"
	"tourchat/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxAttachmentSize = 20 << 20
	userKey           = "user"
)

var allowedAttachmentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type newMessage struct {
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// requireUser resolves the bearer token. Browsers cannot set headers on a
// websocket handshake, so the token query parameter is accepted as well.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found {
			token = c.Query("token")
		}
		if token == "" {
			detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}

		user, err := s.db.UserByToken(token)
		if errors.Is(err, db.ErrNoRows) {
			detail(c, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		if err != nil {
			s.log.Error("token lookup failed", zap.Error(err))
			detail(c, http.StatusInternalServerError, "Internal error")
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) models.User {
	return c.MustGet(userKey).(models.User)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid data")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		detail(c, http.StatusBadRequest, "Username and password are required.")
		return
	}

	user, err := s.db.CreateUser(req.Username, req.Password)
	if errors.Is(err, db.ErrUserExists) {
		detail(c, http.StatusBadRequest, "A user with that username already exists.")
		return
	}
	if err != nil {
		s.log.Error("register failed", zap.String("username", req.Username), zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	s.log.Info("user registered", zap.String("username", user.Username))
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		detail(c, http.StatusBadRequest, "Username and password are required.")
		return
	}

	user, ok, err := s.db.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		s.log.Error("auth failed", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if !ok {
		detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	token, err := s.db.IssueToken(user.ID)
	if err != nil {
		s.log.Error("issue token failed", zap.Int64("user", user.ID), zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": token})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) handleConversations(c *gin.Context) {
	convs, err := s.db.ConversationsFor(currentUser(c).ID)
	if err != nil {
		s.log.Error("list conversations failed", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

// conversationParam parses :id and checks membership. It writes the error
// response itself and reports whether the handler may continue.
func (s *Server) conversationParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		detail(c, http.StatusNotFound, "Not found.")
		return 0, false
	}

	ok, err := s.db.IsParticipant(id, currentUser(c).ID)
	if err != nil {
		s.log.Error("participant check failed", zap.Int64("conversation", id), zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return 0, false
	}
	if !ok {
		detail(c, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

func (s *Server) handleMessages(c *gin.Context) {
	convID, ok := s.conversationParam(c)
	if !ok {
		return
	}

	msgs, err := s.db.GetMessages(convID)
	if err != nil {
		s.log.Error("history failed", zap.Int64("conversation", convID), zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// handleCreateMessage starts or continues the two-party conversation with
// the recipient.
func (s *Server) handleCreateMessage(c *gin.Context) {
	sender := currentUser(c)

	var req newMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid data")
		return
	}
	if req.RecipientID == 0 {
		detail(c, http.StatusBadRequest, "recipient_id is required.")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		detail(c, http.StatusBadRequest, "content is required.")
		return
	}
	if req.RecipientID == sender.ID {
		detail(c, http.StatusBadRequest, "You cannot message yourself.")
		return
	}

	if _, err := s.db.GetUser(req.RecipientID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			detail(c, http.StatusNotFound, "Recipient not found.")
			return
		}
		s.log.Error("recipient lookup failed", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	convID, err := s.db.FindConversation(sender.ID, req.RecipientID)
	if errors.Is(err, db.ErrNoRows) {
		convID, err = s.db.CreateConversation(sender.ID, req.RecipientID)
	}
	if err != nil {
		s.log.Error("conversation lookup failed", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	msg, err := s.db.SaveMessage(convID, sender.ID, req.Content, time.Now().UTC())
	if err != nil {
		s.log.Error("save message failed", zap.Int64("conversation", convID), zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	s.broadcast(convID, messageEvent(msg), nil)
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleAttachment(c *gin.Context) {
	convID, ok := s.conversationParam(c)
	if !ok {
		return
	}

	msgID, err := strconv.ParseInt(c.Param("mid"), 10, 64)
	if err != nil {
		detail(c, http.StatusNotFound, "Not found.")
		return
	}
	msg, err := s.db.GetMessage(msgID)
	if err != nil || msg.ConversationID != convID {
		detail(c, http.StatusNotFound, "Not found.")
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusBadRequest, "No file was submitted.")
		return
	}
	if header.Size > maxAttachmentSize {
		detail(c, http.StatusBadRequest, "File too large. Max size is 20MB.")
		return
	}

	src, err := header.Open()
	if err != nil {
		detail(c, http.StatusBadRequest, "Could not read upload.")
		return
	}
	defer src.Close()

	sniff := make([]byte, 512)
	n, _ := io.ReadFull(src, sniff)
	contentType := http.DetectContentType(sniff[:n])
	ext, allowed := allowedAttachmentTypes[contentType]
	if !allowed {
		detail(c, http.StatusBadRequest, "Unsupported file type.")
		return
	}

	name := uuid.NewString() + ext
	dir := filepath.Join(s.config.MediaDir, "attachments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("media dir", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		s.log.Error("create attachment", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	_, err = io.Copy(dst, io.MultiReader(bytes.NewReader(sniff[:n]), src))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		s.log.Error("write attachment", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	att, err := s.db.AddAttachment(msgID, "/media/attachments/"+name)
	if err != nil {
		os.Remove(dst.Name())
		s.log.Error("save attachment", zap.Error(err))
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}

	s.log.Info("attachment stored",
		zap.Int64("message", msgID),
		zap.String("file", att.File),
		zap.String("type", contentType))
	c.JSON(http.StatusCreated, att)
}

func messageEvent(m models.Message) protocol.MessageEvent {
	return protocol.MessageEvent{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender.Username,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Attachments:    m.Attachments,
	}
}
