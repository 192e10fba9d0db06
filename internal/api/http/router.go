package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadimbarashkov/link-router/internal/models"
)

// LinkRouter is the routing core behind the redirect endpoint.
type LinkRouter interface {
	// Route resolves a click on a short code through the waterfall and
	// returns the final redirect decision.
	Route(ctx context.Context, shortCode, incomingURL string) (*models.RouteResult, error)
}

// NewRouter initializes the HTTP surface: the redirect endpoint itself plus
// ping and prometheus metrics. There is deliberately no link CRUD here; link
// management happens elsewhere.
func NewRouter(logger *httplog.Logger, linkRouter LinkRouter) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/ping", handlePing)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/{shortCode}", handleRedirect(linkRouter))

	return r
}
