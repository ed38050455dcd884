package log

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return logger
	}
	return Default("unknown")
}

// RequestLogger returns echo middleware that tags each request with an id,
// stores a request-scoped logger in its context and logs its completion.
// Status 4xx logs at warn, 5xx at error.
func RequestLogger(logger *Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			reqLogger := logger.With(FieldRequestID, requestID)
			ctx := NewContext(req.Context(), reqLogger)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			fields := NewFields().
				WithHTTPRequest(req.Method, c.Path(), req.UserAgent()).
				WithHTTPResponse(status, time.Since(start).Milliseconds()).
				WithError(err)
			fields[FieldClientIP] = c.RealIP()
			reqLogger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
			return nil
		}
	}
}
