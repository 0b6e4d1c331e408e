package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/utils"
)

// WishHandler handles the REST wish collection of a scene.
type WishHandler struct {
	service      WishService
	ids          *valueobjects.WishIDGenerator
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewWishHandler creates a new wish handler
func NewWishHandler(service WishService, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *WishHandler {
	return &WishHandler{
		service:      service,
		ids:          valueobjects.NewWishIDGenerator(),
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// CreateWishRequest represents the request body for storing a wish. A
// missing id is generated by the server.
type CreateWishRequest struct {
	ID        string  `json:"id,omitempty" validate:"omitempty,wishid"`
	Name      string  `json:"name" validate:"max=80"`
	Message   string  `json:"message" validate:"required,max=500"`
	X         float64 `json:"x" validate:"gte=0"`
	Y         float64 `json:"y" validate:"gte=0"`
	CreatedAt int64   `json:"createdAt,omitempty" validate:"gte=0"`
}

// WishResponse wraps a stored wish.
type WishResponse struct {
	Wish    entities.Wish `json:"wish"`
	Created bool          `json:"created"`
}

// ListWishesResponse is the body of GET .../wishes.
type ListWishesResponse struct {
	Username string          `json:"username"`
	Wishes   []entities.Wish `json:"wishes"`
}

// ListWishes handles GET /api/v1/scenes/{username}/wishes
func (h *WishHandler) ListWishes(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("limit must be a non-negative integer"))
			return
		}
	}

	wishes, err := h.service.FetchAll(r.Context(), username, limit)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if wishes == nil {
		wishes = []entities.Wish{}
	}

	respondJSON(w, h.logger, http.StatusOK, ListWishesResponse{Username: username, Wishes: wishes})
}

// CreateWish handles POST /api/v1/scenes/{username}/wishes. A replayed id
// answers 200 with the submitted wish.
func (h *WishHandler) CreateWish(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	var req CreateWishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	wish := entities.Wish{
		ID:        req.ID,
		Name:      req.Name,
		Message:   req.Message,
		X:         req.X,
		Y:         req.Y,
		CreatedAt: req.CreatedAt,
	}
	if wish.ID == "" {
		wish.ID = h.ids.New()
	}
	if wish.CreatedAt == 0 {
		wish.CreatedAt = time.Now().UnixMilli()
	}

	created, err := h.service.Create(r.Context(), wish, username)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("Wish created",
			zap.String("username", username),
			zap.String("wish_id", wish.ID))
	}
	respondJSON(w, h.logger, status, WishResponse{Wish: wish, Created: created})
}
