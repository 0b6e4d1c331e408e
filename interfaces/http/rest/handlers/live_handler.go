package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/scene"
	"github.com/emmanuelquintana/christmas/domain/core/entities"
	"github.com/emmanuelquintana/christmas/domain/core/valueobjects"
	pkgerrors "github.com/emmanuelquintana/christmas/pkg/errors"
)

// Messages a live client may send.
const (
	LiveLayout        = "layout"
	LiveSubmit        = "submit"
	LiveShowAll       = "show_all"
	LiveReducedMotion = "reduced_motion"
)

// LiveMessage is a client command on a live scene session.
type LiveMessage struct {
	Type       string               `json:"type"`
	Scene      *valueobjects.Rect   `json:"scene,omitempty"`
	Sky        *valueobjects.Rect   `json:"sky,omitempty"`
	Submission *entities.Submission `json:"submission,omitempty"`
	Reduced    bool                 `json:"reduced,omitempty"`
}

// LiveError reports a rejected command back to the client.
type LiveError struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Message string `json:"message"`
}

// SceneFactory creates an orchestrator bound to username.
type SceneFactory func(username string, reducedMotion bool) *scene.Orchestrator

// SessionGauge counts running live sessions.
type SessionGauge interface {
	SessionStarted()
	SessionEnded()
}

// LiveHandler runs one scene orchestrator per websocket connection and
// streams its events to the client.
type LiveHandler struct {
	newScene     SceneFactory
	sessions     SessionGauge
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewLiveHandler creates a new live scene handler
func NewLiveHandler(newScene SceneFactory, sessions SessionGauge, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *LiveHandler {
	return &LiveHandler{
		newScene:     newScene,
		sessions:     sessions,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// Live handles GET /api/v1/scenes/{username}/live. ?reduced=1 starts the
// session with reduced motion.
func (h *LiveHandler) Live(w http.ResponseWriter, r *http.Request) {
	username, err := usernameParam(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	reduced := r.URL.Query().Get("reduced") == "1"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.sessions.SessionStarted()
	defer h.sessions.SessionEnded()

	// The request context is not tied to hijacked connections.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := h.newScene(username, reduced)
	feed, unsubscribe := orch.Subscribe(256)
	defer unsubscribe()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := orch.Run(ctx); err != nil {
			h.logger.Warn("Scene stopped with error", zap.String("username", username), zap.Error(err))
		}
	}()

	replies := make(chan LiveError, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the connection unblocks the read loop below.
		defer conn.Close()
		defer cancel()
		for {
			select {
			case e, ok := <-feed:
				if !ok {
					return
				}
				if err := conn.WriteJSON(e); err != nil {
					return
				}
			case reply := <-replies:
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	h.logger.Info("Live scene session started", zap.String("username", username))

	for {
		var msg LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if err := h.dispatch(ctx, orch, msg); err != nil {
			if ctx.Err() != nil {
				break
			}
			select {
			case replies <- LiveError{Type: "error", Command: msg.Type, Message: errorMessage(err)}:
			default:
			}
		}
	}

	cancel()
	<-finished
	<-writerDone
	h.logger.Info("Live scene session ended", zap.String("username", username))
}

func (h *LiveHandler) dispatch(ctx context.Context, orch *scene.Orchestrator, msg LiveMessage) error {
	switch msg.Type {
	case LiveLayout:
		if msg.Scene == nil || msg.Sky == nil {
			return pkgerrors.NewValidationError("layout needs scene and sky rectangles")
		}
		return orch.Layout(ctx, *msg.Scene, *msg.Sky)
	case LiveSubmit:
		if msg.Submission == nil {
			return pkgerrors.NewValidationError("submit needs a submission")
		}
		_, err := orch.Submit(ctx, *msg.Submission)
		return err
	case LiveShowAll:
		return orch.ShowAll(ctx)
	case LiveReducedMotion:
		return orch.SetReducedMotion(ctx, msg.Reduced)
	default:
		return pkgerrors.NewValidationError("unknown message type")
	}
}

func errorMessage(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return appErr.Message
	}
	return err.Error()
}
