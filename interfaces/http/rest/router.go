// Package rest wires the wishsky HTTP endpoints onto a chi router.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/interfaces/http/rest/handlers"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest/middleware"
	"github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/observability"
)

// Options selects optional surfaces of the router.
type Options struct {
	Version        string
	AllowedOrigins []string
	PublicURL      string
	Profile        bool

	// Realtime enables the websocket endpoints. It is off behind API
	// Gateway, which cannot hijack connections.
	Realtime bool
}

// Router creates and configures the HTTP router
type Router struct {
	service      handlers.WishService
	newScene     handlers.SceneFactory
	metrics      *observability.Collector
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
	opts         Options
}

// NewRouter creates a new router instance
func NewRouter(
	service handlers.WishService,
	newScene handlers.SceneFactory,
	metrics *observability.Collector,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
	opts Options,
) *Router {
	return &Router{
		service:      service,
		newScene:     newScene,
		metrics:      metrics,
		logger:       logger,
		errorHandler: errorHandler,
		opts:         opts,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	origins := rt.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	system := handlers.NewSystemHandler(rt.service, rt.opts.Version, rt.logger, rt.errorHandler)
	router.Get("/health", system.Health)
	router.Get("/ready", system.Ready)
	router.Get("/version", system.Version)
	router.Handle("/metrics", rt.metrics.Handler())

	if rt.opts.Profile {
		router.Route("/debug", registerProfileHandlers)
	}

	share := handlers.NewShareHandler(rt.opts.PublicURL, rt.logger, rt.errorHandler)
	router.Get("/scenes/{username}/share.png", share.QRCode)

	router.Route("/api/v1/scenes/{username}", func(r chi.Router) {
		wishHandler := handlers.NewWishHandler(rt.service, rt.logger, rt.errorHandler)
		r.Get("/wishes", wishHandler.ListWishes)
		r.Post("/wishes", wishHandler.CreateWish)

		if rt.opts.Realtime {
			r.Get("/stream", handlers.NewStreamHandler(rt.service, rt.logger, rt.errorHandler).Stream)
			if rt.newScene != nil {
				r.Get("/live", handlers.NewLiveHandler(rt.newScene, rt.metrics, rt.logger, rt.errorHandler).Live)
			}
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errorHandler.HandleStatus(w, r, http.StatusNotFound, "route not found")
	})

	return router
}
