// Package middleware provides HTTP middleware shared by the relay and admin
// surfaces.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger           logger.Logger
	EnableStackTrace bool
	ResponseMessage  string
}

// DefaultRecoveryConfig returns a sensible default configuration.
func DefaultRecoveryConfig(log logger.Logger) RecoveryConfig {
	return RecoveryConfig{
		Logger:           log,
		EnableStackTrace: true,
		ResponseMessage:  `{"error":"internal server error"}`,
	}
}

// Recovery returns a middleware that recovers from handler panics. A panic
// mid-stream cannot be turned into a 500 anymore, so the response write is
// best effort.
func Recovery(config RecoveryConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					handlePanic(w, r, err, config)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func handlePanic(w http.ResponseWriter, r *http.Request, panicErr interface{}, config RecoveryConfig) {
	fields := []logger.LogField{
		logger.StringField("panic_error", fmt.Sprintf("%v", panicErr)),
		logger.HTTPMethodField(r.Method),
		logger.HTTPPathField(r.URL.Path),
		logger.ClientIPField(getClientIP(r)),
	}
	if config.EnableStackTrace {
		fields = append(fields, logger.StringField("stack_trace", string(debug.Stack())))
	}

	if config.Logger != nil {
		config.Logger.Error("HTTP request panic recovered", fields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusInternalServerError)
	if config.ResponseMessage != "" {
		_, _ = w.Write([]byte(config.ResponseMessage))
	}
}

// getClientIP extracts the real client IP from common proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for idx := 0; idx < len(xff); idx++ {
			if xff[idx] == ',' {
				return xff[:idx]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
