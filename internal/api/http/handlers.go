package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/vadimbarashkov/link-router/internal/database"
	"github.com/vadimbarashkov/link-router/pkg/response"
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// handleRedirect handles clicks on short links.
//
// The routing decision always produces a redirect except when the short code
// itself cannot be resolved to an active link; every internal fault past the
// resolve degrades inside the router toward the link's failsafe URL. The
// visitor therefore only ever sees the redirect or the generic unavailable
// response.
func handleRedirect(linkRouter LinkRouter) http.HandlerFunc {
	const op = "api.http.handleRedirect"

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		result, err := linkRouter.Route(r.Context(), shortCode, r.URL.RequestURI())
		if err != nil {
			if !errors.Is(err, database.ErrShortLinkNotFound) {
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})
			}

			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.LinkUnavailableResponse)
			return
		}

		httplog.LogEntrySetFields(r.Context(), map[string]any{
			"routing_reason":   string(result.RoutingReason),
			"priority_used":    result.PriorityUsed,
			"response_time_ms": result.ResponseTimeMs,
		})

		http.Redirect(w, r, result.DestinationURL, http.StatusFound)
	}
}
