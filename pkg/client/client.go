package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/pagedata"
	"github.com/shopglue/chatwidget/pkg/session"
)

// Client talks to the chat backend. Endpoints is an ordered list of base
// URLs: the first is the primary, every later one a fallback tried once
// after any network error or non-2xx status. Which URL is "primary" is
// configuration, never code.
type Client struct {
	http       *resty.Client
	endpoints  []string
	websiteKey string
	sf         singleflight.Group
}

func New(endpoints []string, websiteKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:       resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		endpoints:  endpoints,
		websiteKey: websiteKey,
	}
}

// ChatRequest is the payload for one send: the message plus everything the
// backend needs to ground and deduplicate it.
type ChatRequest struct {
	Message        string                 `json:"message"`
	ThreadID       string                 `json:"threadId,omitempty"`
	WebsiteID      string                 `json:"websiteId"`
	CurrentPageURL string                 `json:"currentPageUrl,omitempty"`
	PageData       *pagedata.Snapshot     `json:"pageData,omitempty"`
	PastContext    []session.ContextEntry `json:"pastContext,omitempty"`
}

// Website is the backend's view of the embedding site.
type Website struct {
	ID   string             `json:"id"`
	Site session.SiteConfig `json:"site,omitempty"`
}

// ConnectResponse resolves a website/session identity from the access key.
type ConnectResponse struct {
	Website *Website         `json:"website"`
	Session *session.Session `json:"session,omitempty"`
}

type connectRequest struct {
	WebsiteKey string `json:"websiteKey"`
}

type clearRequest struct {
	SessionID string `json:"sessionId"`
}

type clearResponse struct {
	Session *session.Session `json:"session"`
}

type windowStateRequest struct {
	SessionID   string              `json:"sessionId"`
	WindowState session.WindowState `json:"windowState"`
}

type welcomeBackResponse struct {
	Message string `json:"message"`
}

// post tries each endpoint in order until one returns a 2xx. Grounded
// failure handling: a later endpoint succeeding is logged, all endpoints
// failing surfaces the last error.
func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("client: no endpoints configured")
	}

	var lastErr error
	for i, base := range c.endpoints {
		resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(base + path)
		if err == nil && resp.IsSuccess() {
			if i > 0 {
				logger.InfoCF("client", fmt.Sprintf("fallback #%d succeeded", i),
					map[string]interface{}{"path": path})
			}
			return resp.Body(), nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("client: %s returned %d", base+path, resp.StatusCode())
		}
		logger.WarnCF("client", fmt.Sprintf("endpoint #%d failed: %v, trying next", i, lastErr),
			map[string]interface{}{"path": path})
	}

	return nil, fmt.Errorf("client: all endpoints failed, last error: %w", lastErr)
}

// Connect resolves the website/session identity for the configured access
// key. Concurrent calls are deduplicated: only one request is in flight.
func (c *Client) Connect(ctx context.Context) (*ConnectResponse, error) {
	v, err, _ := c.sf.Do("connect", func() (interface{}, error) {
		raw, err := c.post(ctx, "/connect", connectRequest{WebsiteKey: c.websiteKey})
		if err != nil {
			return nil, err
		}
		var out ConnectResponse
		if err := unmarshalLoose(raw, &out); err != nil {
			return nil, fmt.Errorf("client: parse connect response: %w", err)
		}
		if out.Website == nil {
			return nil, fmt.Errorf("client: connect response has no website")
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ConnectResponse), nil
}

// Chat posts one message and normalizes whichever envelope shape the
// backend answers with into a single Reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	raw, err := c.post(ctx, "/chat", req)
	if err != nil {
		return Reply{}, err
	}
	return NormalizeReply(raw)
}

// ClearSession asks the backend for a replacement session with a fresh
// current thread.
func (c *Client) ClearSession(ctx context.Context, sessionID string) (*session.Session, error) {
	raw, err := c.post(ctx, "/session/clear", clearRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var out clearResponse
	if err := unmarshalLoose(raw, &out); err != nil {
		return nil, fmt.Errorf("client: parse clear response: %w", err)
	}
	if out.Session == nil {
		return nil, fmt.Errorf("client: clear response has no session")
	}
	return out.Session, nil
}

// UpdateWindowStateFor pushes the durable window flags for a session to the
// backend.
func (c *Client) UpdateWindowStateFor(ctx context.Context, sessionID string, ws session.WindowState) error {
	_, err := c.post(ctx, "/session/window", windowStateRequest{SessionID: sessionID, WindowState: ws})
	return err
}

// WelcomeBack polls for a pending welcome-back message. An empty string
// means nothing is pending yet.
func (c *Client) WelcomeBack(ctx context.Context, sessionID string) (string, error) {
	raw, err := c.post(ctx, "/welcome-back", clearRequest{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	var out welcomeBackResponse
	if err := unmarshalLoose(raw, &out); err != nil {
		return "", fmt.Errorf("client: parse welcome-back response: %w", err)
	}
	return out.Message, nil
}
