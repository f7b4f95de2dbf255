// Package api talks to the REST side of the chat server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tourchat/models"
)

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// BaseURL is the server root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Access string `json:"access"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/jwt/create/", credentials{username, password}, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", &Error{Status: http.StatusOK, Message: "login response carried no token"}
	}
	return out.Access, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodPost, "/auth/users/", credentials{username, password}, &u)
	return u, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodGet, "/auth/users/me/", nil, &u)
	return u, err
}

func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations/", nil, &convs)
	return convs, err
}

func (c *Client) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+strconv.FormatInt(conversationID, 10)+"/messages/", nil, &msgs)
	return msgs, err
}

// CreateConversation sends the first message to recipientID. The server
// reuses an existing two-party conversation when there is one.
func (c *Client) CreateConversation(ctx context.Context, recipientID int64, content string) (models.Message, error) {
	body := struct {
		RecipientID int64  `json:"recipient_id"`
		Content     string `json:"content"`
	}{recipientID, content}

	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/api/messages/", body, &msg)
	return msg, err
}

// UploadAttachment posts r as a multipart "file" field.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, messageID int64, name string, r io.Reader) (models.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return models.Attachment{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.Attachment{}, err
	}

	path := "/api/conversations/" + strconv.FormatInt(conversationID, 10) +
		"/messages/" + strconv.FormatInt(messageID, 10) + "/attachments/"
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var att models.Attachment
	err = c.send(req, &att)
	return att, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// errorMessage prefers the server's "detail" field, then the raw body.
func errorMessage(status int, body []byte) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("request failed (%d)", status)
}
