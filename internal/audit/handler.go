package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/userhub/userhub/internal/platform/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves audit query endpoints.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates an audit query handler.
func NewHandler(db database.Querier, store *Store) *Handler {
	return &Handler{db: db, store: store}
}

// HandleListEvents returns recent audit events.
// GET /api/v1/audit/events?action=access.denied&actor=<id>&limit=50&after=<RFC3339>
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := ListEventsParams{Limit: defaultListLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200"})
			return
		}
		params.Limit = n
	}
	if raw := q.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "after must be an RFC3339 timestamp"})
			return
		}
		params.After = &t
	}
	if raw := q.Get("action"); raw != "" {
		params.Action = &raw
	}
	if raw := q.Get("actor"); raw != "" {
		params.ActorID = &raw
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []StoredEvent{}, "count": 0})
		return
	}

	events, err := h.store.List(r.Context(), h.db, params)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing audit events", "error", err)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
