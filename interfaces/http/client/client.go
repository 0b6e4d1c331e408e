// Package client talks to a wishsky server over its REST and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// WishClient implements ports.WishRepository against a remote server.
type WishClient struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// NewWishClient creates a client for the server at baseURL.
func NewWishClient(baseURL string, logger *zap.Logger) *WishClient {
	return &WishClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

type listResponse struct {
	Wishes []entities.Wish `json:"wishes"`
}

type insertMessage struct {
	Type string        `json:"type"`
	Wish entities.Wish `json:"wish"`
}

func (c *WishClient) scenePath(username string) string {
	return c.baseURL + "/api/v1/scenes/" + url.PathEscape(username)
}

// FetchAll lists the namespace, oldest first.
func (c *WishClient) FetchAll(ctx context.Context, username string, limit int) ([]entities.Wish, error) {
	endpoint := c.scenePath(username) + "/wishes"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.NewStoreError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("fetch", resp)
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.NewStoreError("fetch", fmt.Errorf("failed to decode response: %w", err))
	}
	return out.Wishes, nil
}

// Insert posts wish. The server answers 200 for a replayed id, which is
// also success here.
func (c *WishClient) Insert(ctx context.Context, wish entities.Wish, username string) error {
	body, err := json.Marshal(wish)
	if err != nil {
		return pkgerrors.NewStoreError("insert", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.scenePath(username)+"/wishes", bytes.NewReader(body))
	if err != nil {
		return pkgerrors.NewStoreError("insert", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.NewStoreError("insert", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return c.statusError("insert", resp)
	}
}

// SubscribeInserts dials the stream websocket and delivers inserts until the
// returned cancel is called or the server closes the stream.
func (c *WishClient) SubscribeInserts(ctx context.Context, username string, onInsert func(entities.Wish)) (ports.CancelFunc, error) {
	wsURL := "ws" + strings.TrimPrefix(c.scenePath(username), "http") + "/stream"

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, c.statusError("subscribe", resp)
		}
		return nil, pkgerrors.NewStoreError("subscribe", err)
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	go func() {
		for {
			var msg insertMessage
			if err := conn.ReadJSON(&msg); err != nil {
				select {
				case <-done:
				default:
					c.logger.Warn("Insert stream closed", zap.String("username", username), zap.Error(err))
				}
				return
			}
			select {
			case <-done:
				return
			default:
			}
			if msg.Type == "wish.inserted" {
				onInsert(msg.Wish)
			}
		}
	}()

	return cancel, nil
}

// statusError turns an error response into an AppError, keeping the
// server's type when the body carries one.
func (c *WishClient) statusError(operation string, resp *http.Response) error {
	var body struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	cause := fmt.Errorf("%s %s: %d %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, body.Message)
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		msg := body.Message
		if msg == "" {
			msg = "request rejected"
		}
		return pkgerrors.NewValidationError(msg).WithCause(cause)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return pkgerrors.NewUnavailableError("wishsky server", cause)
	default:
		return pkgerrors.NewStoreError(operation, cause)
	}
}
