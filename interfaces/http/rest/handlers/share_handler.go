package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

const qrSize = 320

// ShareHandler renders share links of a scene as QR codes.
type ShareHandler struct {
	publicURL    string
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewShareHandler creates a new share handler. An empty publicURL derives
// the base from the request.
func NewShareHandler(publicURL string, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *ShareHandler {
	return &ShareHandler{
		publicURL:    strings.TrimSuffix(publicURL, "/"),
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// ShareLink returns the public URL of username's scene.
func (h *ShareHandler) ShareLink(r *http.Request, username string) string {
	base := h.publicURL
	if base == "" {
		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?u=" + url.QueryEscape(username)
}

// QRCode handles GET /scenes/{username}/share.png
func (h *ShareHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	png, err := qrcode.Encode(h.ShareLink(r, username), qrcode.Medium, qrSize)
	if err != nil {
		h.errorHandler.Handle(w, r, pkgerrors.NewInternalError("qr generation failed").WithCause(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(png); err != nil {
		h.logger.Debug("Failed to write QR code", zap.Error(err))
	}
}
