// Package client is the HTTP client automationctl uses to reach the task manager.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const DefaultServerURL = "http://127.0.0.1:8888"

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	ServerURL string
	Token     string
	UserID    string
	Timeout   time.Duration
	http      *client.Client
}

func New(serverURL, token, userID string) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	c, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, err
	}
	return &Client{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Token:     token,
		UserID:    userID,
		Timeout:   30 * time.Second,
		http:      c,
	}, nil
}

// Do sends body as JSON (when non-nil) and decodes a 2xx reply into out
// (when non-nil). It returns the HTTP status code.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(method)
	req.SetRequestURI(c.ServerURL + path)
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.UserID != "" {
		req.Header.Set("X-User-ID", c.UserID)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize request: %w", err)
		}
		req.Header.SetContentTypeBytes([]byte("application/json"))
		req.SetBody(raw)
	}

	if err := c.http.DoTimeout(ctx, req, resp, c.Timeout); err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}

	code := resp.StatusCode()
	if code < 200 || code >= 300 {
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &msg) != nil || msg.Error == "" {
			msg.Error = string(resp.Body())
		}
		return code, &APIError{StatusCode: code, Message: msg.Error}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return code, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return code, nil
}

func (c *Client) Post(ctx context.Context, path string, body, out interface{}) (int, error) {
	return c.Do(ctx, consts.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out interface{}) (int, error) {
	return c.Do(ctx, consts.MethodPut, path, body, out)
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) (int, error) {
	return c.Do(ctx, consts.MethodGet, path, nil, out)
}
