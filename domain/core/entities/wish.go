package entities

import (
	"strings"
	"time"

	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// Wish is a settled star in a user's sky. X and Y are fractions of the sky
// rectangle once normalized; legacy rows may still carry pixel values until
// the repair pass runs.
type Wish struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Message   string  `json:"message"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CreatedAt int64   `json:"createdAt"` // epoch milliseconds
}

// Validate checks the invariants every stored wish must hold.
func (w Wish) Validate() error {
	if err := valueobjects.ValidateWishID(w.ID); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	if strings.TrimSpace(w.Message) == "" {
		return pkgerrors.NewValidationError("message is required")
	}
	if !w.Position().Valid() {
		return pkgerrors.NewValidationError("x and y must be finite and not negative")
	}
	return nil
}

// Position returns the stored coordinates.
func (w Wish) Position() valueobjects.Point {
	return valueobjects.Point{X: w.X, Y: w.Y}
}

// WithPosition returns a copy of w moved to p.
func (w Wish) WithPosition(p valueobjects.Point) Wish {
	w.X, w.Y = p.X, p.Y
	return w
}

// Created returns CreatedAt as a time.
func (w Wish) Created() time.Time {
	return time.UnixMilli(w.CreatedAt)
}

// DisplayName returns the author label shown to viewers.
func (w Wish) DisplayName() string {
	if name := strings.TrimSpace(w.Name); name != "" {
		return name
	}
	return "Anónimo"
}

// Flying is a wish on its way to the sky. It is never persisted.
type Flying struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Message  string             `json:"message"`
	StartAbs valueobjects.Point `json:"startAbs"`
	EndAbs   valueobjects.Point `json:"endAbs"`
	EndPct   valueobjects.Point `json:"endPct"`
}

// Land turns the flight into the wish it carries, positioned at EndPct.
func (f Flying) Land(at time.Time) Wish {
	return Wish{
		ID:        f.ID,
		Name:      f.Name,
		Message:   f.Message,
		X:         f.EndPct.X,
		Y:         f.EndPct.Y,
		CreatedAt: at.UnixMilli(),
	}
}

// Submission is what the input form emits when a viewer sends a wish.
// Origin is the rectangle of the control that sent it, in viewport pixels.
type Submission struct {
	Name    string             `json:"name"`
	Message string             `json:"message"`
	Origin  *valueobjects.Rect `json:"originRect,omitempty"`
}

// Normalized trims the free-text fields.
func (s Submission) Normalized() Submission {
	s.Name = strings.TrimSpace(s.Name)
	s.Message = strings.TrimSpace(s.Message)
	return s
}

// Validate rejects submissions without a message.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.Message) == "" {
		return pkgerrors.NewValidationError("message is required")
	}
	return nil
}
