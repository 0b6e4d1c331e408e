package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietRoutes are polled by load balancers and scrapers.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Logger creates a logging middleware. Requests are logged once they finish,
// so websocket routes produce one entry per session, when the socket closes.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			upgrade := strings.EqualFold(r.Header.Get("Upgrade"), "websocket")

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route, username := routeOf(r)
			status := ww.Status()
			msg := "HTTP Request"
			if upgrade {
				msg = "Websocket session"
				if status == 0 {
					// A hijacked connection never reports through the wrapper.
					status = http.StatusSwitchingProtocols
				} else {
					msg = "Websocket upgrade rejected"
				}
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
				zap.String("userAgent", r.UserAgent()),
			}
			if username != "" {
				fields = append(fields, zap.String("username", username))
			}

			if ce := logger.Check(levelFor(route, status), msg); ce != nil {
				ce.Write(fields...)
			}
		})
	}
}

func routeOf(r *http.Request) (route, username string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched", ""
	}
	route = rctx.RoutePattern()
	if route == "" {
		route = "unmatched"
	}
	return route, rctx.URLParam("username")
}

func levelFor(route string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	case quietRoutes[route]:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
