package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/emmanuelquintana/christmas/infrastructure/config"
	"github.com/emmanuelquintana/christmas/infrastructure/di"
	"github.com/emmanuelquintana/christmas/interfaces/http/rest"
)

const releaseVersion = "1.0.0"

var (
	// chiLambda wraps the Chi router for AWS Lambda integration
	chiLambda *chiadapter.ChiLambdaV2

	container *di.Container

	coldStart     = true
	coldStartTime time.Time
)

// loadConfig reads settings from WISHSKY_* variables and the optional
// WISHSKY_CONFIG file. Lambda has no command line.
func loadConfig() (*config.Config, error) {
	fs := pflag.NewFlagSet("lambda", pflag.ContinueOnError)
	config.RegisterFlags(fs)

	v, err := config.NewViper(fs, os.Getenv(config.EnvPrefix+"_CONFIG"))
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

func init() {
	coldStartTime = time.Now()
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(ctx, cfg, di.BuildVersion(releaseVersion))
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	// API Gateway HTTP APIs cannot hold websockets, so only the REST surface
	// is mounted here.
	router := rest.NewRouter(
		container.Repository,
		nil,
		container.Metrics,
		container.Logger,
		container.ErrorHandler,
		rest.Options{
			Version:        releaseVersion,
			AllowedOrigins: cfg.AllowedOrigins,
			PublicURL:      cfg.PublicURL,
		},
	)

	chiRouter, ok := router.Setup().(*chi.Mux)
	if !ok {
		log.Fatal("Failed to cast handler to chi.Mux")
	}
	chiLambda = chiadapter.NewV2(chiRouter)

	container.Logger.Info("Lambda cold start completed",
		zap.Duration("duration", time.Since(coldStartTime)),
		zap.String("store", cfg.Store),
	)
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := chiLambda.ProxyWithContextV2(ctx, req)

	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		coldStart = false
	} else {
		resp.Headers["X-Cold-Start"] = "false"
	}
	if req.RequestContext.RequestID != "" {
		resp.Headers["X-Request-ID"] = req.RequestContext.RequestID
	}

	if resp.StatusCode >= 500 {
		container.Logger.Error("Lambda error response",
			zap.String("method", req.RequestContext.HTTP.Method),
			zap.String("path", req.RequestContext.HTTP.Path),
			zap.String("request_id", req.RequestContext.RequestID),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", resp.Body),
		)
	}

	// Flush buffered logs before the sandbox freezes.
	_ = container.Logger.Sync()
	return resp, err
}

func main() {
	lambda.Start(Handler)
}
