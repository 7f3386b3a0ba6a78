package router

import (
	"net/http"

	"Mansoor88-6/escort-alerts/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Options of the alert-server router
type Options struct {
	APIKey         string
	ColoredLogs    bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	Credentials    bool
	CORSDebug      bool
	// nil serves the default registry
	Gatherer prometheus.Gatherer
}

// New builds the alert-server HTTP handler. Subscription registration and the VAPID
// key are open to browsers; event and dispatch endpoints require the API key.
func New(events *handler.EventHandler, pushes *handler.PushHandler, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, opts.ColoredLogs))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(opts).Handler)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/push/public-key", pushes.PublicKey)
		r.Post("/push/subscriptions", pushes.Subscribe)
		r.Delete("/push/subscriptions", pushes.Unsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(apiKeyAuth(opts.APIKey))

			r.Post("/events", events.CreateEvent)
			r.Get("/events", events.ListEvents)
			r.Post("/push/dispatch", pushes.Dispatch)
			r.Post("/push/broadcast", pushes.Broadcast)
		})
	})

	return r
}

func corsHandler(opts Options) *cors.Cors {
	methods := opts.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := opts.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", "X-API-Key"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: opts.Credentials,
		Debug:            opts.CORSDebug,
	})
}
