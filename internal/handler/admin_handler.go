package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"neighborly-auth/internal/service"
	"neighborly-auth/internal/util"
)

// Moderator is the slice of the user directory the admin surface needs.
type Moderator interface {
	Ban(ctx context.Context, userID string, expiresAt *time.Time) error
	Unban(ctx context.Context, userID string) error
}

// EventSearcher runs queries against the indexed security events.
type EventSearcher interface {
	Search(ctx context.Context, index string, query map[string]interface{}) (*esapi.Response, error)
	ParseResponse(res *esapi.Response, target interface{}) error
}

// StatsProvider reports storage counters for the admin surface.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// AdminHandler serves the moderation endpoints. Routes sit behind AdminOnly.
type AdminHandler struct {
	directory Moderator
	search    EventSearcher
	stats     StatsProvider
	index     string
}

func NewAdminHandler(directory Moderator, search EventSearcher, stats StatsProvider, eventsIndex string) *AdminHandler {
	return &AdminHandler{
		directory: directory,
		search:    search,
		stats:     stats,
		index:     eventsIndex,
	}
}

type banRequest struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *AdminHandler) RegisterRoutes(router chi.Router, adminOnly func(http.Handler) http.Handler) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(adminOnly)
		r.Post("/users/{userID}/ban", h.BanUser)
		r.Post("/users/{userID}/unban", h.UnbanUser)
		r.Get("/events", h.SearchEvents)
		r.Get("/stats", h.Stats)
	})
}

// BanUser bans a user, permanently or until expires_at
// @Summary Ban user
// @Tags admin
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param request body banRequest false "Optional expiry"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{userID}/ban [post]
func (h *AdminHandler) BanUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := uuid.Parse(userID); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid user ID")
		return
	}

	var req banRequest
	if r.Body != nil {
		// An empty body means a permanent ban.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		respondWithError(w, http.StatusBadRequest,
			service.ErrInvalidInput, "Expiry is in the past")
		return
	}

	if err := h.directory.Ban(r.Context(), userID, req.ExpiresAt); err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not ban user")
		return
	}

	util.Info("User banned via admin API", util.String("user_id", userID))
	respondWithJSON(w, http.StatusOK, successResponse(nil, "User banned"))
}

// UnbanUser lifts a ban ahead of its expiry
// @Summary Unban user
// @Tags admin
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /admin/users/{userID}/unban [post]
func (h *AdminHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := uuid.Parse(userID); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid user ID")
		return
	}

	if err := h.directory.Unban(r.Context(), userID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not unban user")
		return
	}

	util.Info("User unbanned via admin API", util.String("user_id", userID))
	respondWithJSON(w, http.StatusOK, successResponse(nil, "User unbanned"))
}

// SearchEvents queries indexed security events by user and type
// @Summary Search security events
// @Tags admin
// @Produce json
// @Param user_id query string false "Filter by user"
// @Param type query string false "Filter by event type"
// @Param limit query int false "Max hits (default 50)"
// @Success 200 {object} Response
// @Router /admin/events [get]
func (h *AdminHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		respondWithError(w, http.StatusServiceUnavailable,
			errors.New("event search unavailable"), "Event search unavailable")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var filters []map[string]interface{}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		})
	}
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"event_type": eventType},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"event_time": map[string]interface{}{"order": "desc"}},
		},
	}
	if len(filters) > 0 {
		query["query"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		}
	}

	res, err := h.search.Search(r.Context(), h.index, query)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, err, "Event search failed")
		return
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := h.search.ParseResponse(res, &parsed); err != nil {
		respondWithError(w, http.StatusBadGateway, err, "Event search failed")
		return
	}

	events := make([]json.RawMessage, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source)
	}

	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    events,
		Meta: &Meta{
			Total:    parsed.Hits.Total.Value,
			PageSize: limit,
		},
	})
}

// Stats reports storage counters
// @Summary Storage stats
// @Tags admin
// @Produce json
// @Success 200 {object} Response
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		respondWithError(w, http.StatusServiceUnavailable,
			errors.New("stats unavailable"), "Stats unavailable")
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, err, "Stats query failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(stats, "Storage stats"))
}
