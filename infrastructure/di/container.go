package di

import (
	"context"

	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/application/ports"
	"github.com/emmanuelquintana/christmas/infrastructure/config"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence"
	"github.com/emmanuelquintana/christmas/infrastructure/persistence/realtime"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest/handlers"
	"github.com/emmanuelquintana/christmas/pkg/errors"
	"github.com/emmanuelquintana/christmas/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Version      BuildVersion
	Level        zap.AtomicLevel
	Logger       *zap.Logger
	ErrorHandler *errors.ErrorHandler
	Metrics      *observability.Collector
	Tracing      *observability.TracerProvider
	Store        ports.WishStore
	Broker       *realtime.Broker
	Publisher    ports.EventPublisher
	Repository   *persistence.RealtimeRepository
	SceneFactory handlers.SceneFactory
	Router       *rest.Router
}

// Shutdown flushes traces and logs.
func (c *Container) Shutdown(ctx context.Context) error {
	err := c.Tracing.Shutdown(ctx)
	_ = c.Logger.Sync()
	return err
}
