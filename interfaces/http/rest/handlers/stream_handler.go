package handlers

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// InsertMessage is pushed to stream clients for every new wish.
type InsertMessage struct {
	Type     string        `json:"type"`
	Username string        `json:"username"`
	Wish     entities.Wish `json:"wish"`
}

// MessageTypeInsert tags InsertMessage.
const MessageTypeInsert = "wish.inserted"

// StreamHandler pushes realtime inserts of a namespace over a websocket.
type StreamHandler struct {
	service      WishService
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(service WishService, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *StreamHandler {
	return &StreamHandler{
		service:      service,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// Stream handles GET /api/v1/scenes/{username}/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	send := make(chan InsertMessage, 16)
	var (
		mu     sync.Mutex
		closed bool
	)
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(send)
		}
	}

	cancel, err := h.service.SubscribeInserts(r.Context(), username, func(wish entities.Wish) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case send <- InsertMessage{Type: MessageTypeInsert, Username: username, Wish: wish}:
		default:
			h.logger.Warn("Stream client too slow, closing",
				zap.String("username", username))
			closed = true
			close(send)
		}
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	// Subscribed before the upgrade so inserts made once the client is
	// connected are never missed.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		cancel()
		stop()
		return
	}

	go func() {
		defer conn.Close()
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	cancel()
	stop()
}
