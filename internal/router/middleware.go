package router

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs one line per request. colored renders the status code the way
// a developer terminal expects; production keeps plain structured fields.
func requestLogger(logger *zap.Logger, colored bool) func(next http.Handler) http.Handler {
	log := logger.With(zap.String("component", "middleware/logger"))

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()

			defer func() {
				status := fmt.Sprintf("%03d", ww.Status())
				if colored {
					status = statusColor(ww.Status()).Sprint(status)
				}
				log.Info(fmt.Sprintf("%s %s - %s", r.Method, r.URL.Path, status),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(t1)),
				)
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

func statusColor(status int) *color.Color {
	switch {
	case status < 200:
		return color.New(color.FgBlue)
	case status < 300:
		return color.New(color.FgGreen)
	case status < 400:
		return color.New(color.FgCyan)
	case status < 500:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// apiKeyAuth accepts "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty
// key disables the check.
func apiKeyAuth(key string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if auth := r.Header.Get("Authorization"); presented == "" && strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
