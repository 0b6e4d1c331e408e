// Package handlers implements the wishsky HTTP and websocket endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

// WishService is the repository surface the handlers need.
type WishService interface {
	FetchAll(ctx context.Context, username string, limit int) ([]entities.Wish, error)
	Create(ctx context.Context, wish entities.Wish, username string) (bool, error)
	SubscribeInserts(ctx context.Context, username string, onInsert func(entities.Wish)) (ports.CancelFunc, error)
	Ping(ctx context.Context) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// usernameParam reads and normalizes the {username} path parameter.
func usernameParam(r *http.Request) (string, error) {
	return utils.ParseUsername(chi.URLParam(r, "username"))
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
