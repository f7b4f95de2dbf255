package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tourchat/db"
	"tourchat/models"
	"tourchat/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestServer serves the router over httptest with a throwaway database
func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	srv := New(database, &ServerConfig{
		MediaDir:     t.TempDir(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, nil)
	ts := httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
		database.Close()
	})
	return srv, ts
}

func doJSON(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// signUp registers a user and returns it with a fresh access token.
func signUp(t *testing.T, ts *httptest.Server, username string) (models.User, string) {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, ts.URL+"/auth/users/", "", credentials{username, "pw"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var user models.User
	require.NoError(t, json.Unmarshal(body, &user))

	status, body = doJSON(t, http.MethodPost, ts.URL+"/auth/jwt/create/", "", credentials{username, "pw"})
	require.Equal(t, http.StatusOK, status, string(body))

	var tok struct {
		Access string `json:"access"`
	}
	require.NoError(t, json.Unmarshal(body, &tok))
	return user, tok.Access
}

func startConversation(t *testing.T, ts *httptest.Server, token string, recipient int64, content string) models.Message {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/messages/", token,
		newMessage{RecipientID: recipient, Content: content})
	require.Equal(t, http.StatusCreated, status, string(body))

	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func TestRegisterAndLogin(t *testing.T) {
	_, ts := setupTestServer(t)

	ali, token := signUp(t, ts, "ali")
	assert.NotZero(t, ali.ID)

	status, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/users/", "", credentials{"ali", "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/auth/jwt/create/", "", credentials{"ali", "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, string(body), "No active account")

	status, body = doJSON(t, http.MethodGet, ts.URL+"/auth/users/me/", token, nil)
	require.Equal(t, http.StatusOK, status)
	var me models.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, ali, me)
}

func TestUnauthenticatedAccess(t *testing.T) {
	_, ts := setupTestServer(t)

	status, _ := doJSON(t, http.MethodGet, ts.URL+"/api/conversations/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/api/conversations/", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreateMessageReusesConversation(t *testing.T) {
	_, ts := setupTestServer(t)
	_, aliToken := signUp(t, ts, "ali")
	sara, _ := signUp(t, ts, "sara")
	_, rezaToken := signUp(t, ts, "reza")

	first := startConversation(t, ts, aliToken, sara.ID, "hi")
	second := startConversation(t, ts, aliToken, sara.ID, "again")
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, "ali", second.Sender.Username)

	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/conversations/", aliToken, nil)
	require.Equal(t, http.StatusOK, status)
	var convs []models.Conversation
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Len(t, convs, 1)
	assert.True(t, convs[0].HasParticipant(sara.ID))
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "again", convs[0].LastMessage.Content)

	history := ts.URL + "/api/conversations/" + strconv.FormatInt(first.ConversationID, 10) + "/messages/"
	status, body = doJSON(t, http.MethodGet, history, aliToken, nil)
	require.Equal(t, http.StatusOK, status)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)

	status, _ = doJSON(t, http.MethodGet, history, rezaToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateMessageValidation(t *testing.T) {
	_, ts := setupTestServer(t)
	ali, token := signUp(t, ts, "ali")
	sara, _ := signUp(t, ts, "sara")

	tests := []struct {
		name string
		req  newMessage
		want int
	}{
		{"missing recipient", newMessage{Content: "x"}, http.StatusBadRequest},
		{"blank content", newMessage{RecipientID: sara.ID, Content: "  "}, http.StatusBadRequest},
		{"self", newMessage{RecipientID: ali.ID, Content: "x"}, http.StatusBadRequest},
		{"unknown recipient", newMessage{RecipientID: 999, Content: "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/messages/", token, tt.req)
			assert.Equal(t, tt.want, status)
		})
	}
}

func upload(t *testing.T, url, token, name string, content []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestAttachmentUpload(t *testing.T) {
	_, ts := setupTestServer(t)
	_, token := signUp(t, ts, "ali")
	sara, _ := signUp(t, ts, "sara")
	msg := startConversation(t, ts, token, sara.ID, "see file")

	url := ts.URL + "/api/conversations/" + strconv.FormatInt(msg.ConversationID, 10) +
		"/messages/" + strconv.FormatInt(msg.ID, 10) + "/attachments/"

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	status, body := upload(t, url, token, "shot.png", png)
	require.Equal(t, http.StatusCreated, status, string(body))

	var att models.Attachment
	require.NoError(t, json.Unmarshal(body, &att))
	assert.True(t, strings.HasPrefix(att.File, "/media/attachments/"))
	assert.True(t, strings.HasSuffix(att.File, ".png"))

	resp, err := http.Get(ts.URL + att.File)
	require.NoError(t, err)
	served, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, png, served)

	status, _ = upload(t, url, token, "notes.txt", []byte("just some text"))
	assert.Equal(t, http.StatusBadRequest, status)
}

func dialChat(t *testing.T, ts *httptest.Server, token string, conversationID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/" + strconv.FormatInt(conversationID, 10) + "/"
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.Decode(data)
	require.NoError(t, err, string(data))
	return ev
}

func sendFrame(t *testing.T, conn *websocket.Conn, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestChatSocketRoundTrip(t *testing.T) {
	srv, ts := setupTestServer(t)
	_, aliToken := signUp(t, ts, "ali")
	sara, saraToken := signUp(t, ts, "sara")
	opening := startConversation(t, ts, aliToken, sara.ID, "hi")
	convID := opening.ConversationID

	ali := dialChat(t, ts, aliToken, convID)
	saraConn := dialChat(t, ts, saraToken, convID)
	require.Eventually(t, func() bool {
		return strings.HasPrefix(srv.GetStats(), "connections=2,")
	}, 2*time.Second, 10*time.Millisecond)

	// Garbage is dropped without closing the channel.
	require.NoError(t, ali.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, ali, protocol.ChatMessage{Message: "gg"})

	for _, conn := range []*websocket.Conn{ali, saraConn} {
		msg, ok := readEvent(t, conn).(protocol.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, "ali", msg.Sender)
		assert.Equal(t, "gg", msg.Content)
		assert.Equal(t, convID, msg.ConversationID)
	}

	sendFrame(t, ali, protocol.Typing{IsTyping: true})
	assert.Equal(t, protocol.TypingEvent{User: "ali", IsTyping: true}, readEvent(t, saraConn))

	// Only the sender may change a message; sara's attempt is ignored.
	sendFrame(t, saraConn, protocol.EditMessage{MessageID: opening.ID, Content: "hijacked"})
	sendFrame(t, ali, protocol.EditMessage{MessageID: opening.ID, Content: "hello"})
	assert.Equal(t, protocol.EditedEvent{ID: opening.ID, Content: "hello"}, readEvent(t, ali))
	assert.Equal(t, protocol.EditedEvent{ID: opening.ID, Content: "hello"}, readEvent(t, saraConn))

	sendFrame(t, ali, protocol.DeleteMessage{MessageID: opening.ID})
	assert.Equal(t, protocol.DeletedEvent{MessageID: opening.ID}, readEvent(t, saraConn))

	stored, err := srv.db.GetMessage(opening.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
	assert.True(t, stored.IsDeleted)
}

func TestChatSocketRejectsOutsiders(t *testing.T) {
	_, ts := setupTestServer(t)
	_, aliToken := signUp(t, ts, "ali")
	sara, _ := signUp(t, ts, "sara")
	_, rezaToken := signUp(t, ts, "reza")
	msg := startConversation(t, ts, aliToken, sara.ID, "hi")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/" + strconv.FormatInt(msg.ConversationID, 10) + "/"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+rezaToken, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestControlSocket(t *testing.T) {
	srv, _ := setupTestServer(t)
	path := filepath.Join(t.TempDir(), "ctl.sock")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeControl(ctx, path, func(reason string) { stopped <- reason })
	}()

	require.Eventually(t, func() bool {
		_, err := Control(path, "stats")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := Control(path, "stats")
	require.NoError(t, err)
	assert.Contains(t, stats, "connections=0")
	assert.Contains(t, stats, "accounts=0")

	_, err = Control(path, "reboot")
	assert.EqualError(t, err, "Unknown command")

	reply, err := Control(path, "shutdown|upgrade")
	require.NoError(t, err)
	assert.Equal(t, "Shutting down", reply)
	select {
	case reason := <-stopped:
		assert.Equal(t, "upgrade", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("stop was not called")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("control socket did not stop")
	}
}
