package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
)

const defaultListLimit = 20

// Handler serves stored dictionaries over HTTP.
type Handler struct {
	reader Reader
	cache  *Cache
	logger *slog.Logger
}

// NewHandler returns a handler reading from reader. cache may be nil.
func NewHandler(reader Reader, cache *Cache) *Handler {
	return &Handler{
		reader: reader,
		cache:  cache,
		logger: slog.Default().With("component", "dictionary-handler"),
	}
}

// Register mounts the dictionary routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/dictionary", h.Latest)
	mux.HandleFunc("GET /api/v1/dictionary/snapshots", h.List)
	mux.HandleFunc("GET /api/v1/dictionary/snapshots/{id}", h.Get)
}

// Latest serves the newest dictionary. The optional min and limit query
// parameters filter its entries.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	h.serveSnapshot(w, r, LatestKey, h.reader.LatestSnapshot)
}

// Get serves the snapshot named by the id path value.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.serveSnapshot(w, r, SnapshotKey(id), func(ctx context.Context) (*Snapshot, error) {
		return h.reader.GetSnapshot(ctx, id)
	})
}

// List serves snapshot summaries, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer, got %q", v))
			return
		}
		limit = n
	}
	snaps, err := h.reader.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	for i := range snaps {
		snaps[i].Entries = nil
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) serveSnapshot(w http.ResponseWriter, r *http.Request, key string, load func(context.Context) (*Snapshot, error)) {
	minProb, limit, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var snap *Snapshot
	hit := false
	if h.cache != nil {
		snap, hit, err = h.cache.GetOrLoad(r.Context(), key, load)
	} else {
		snap, err = load(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := *snap
	out.Entries = Filter(snap.Entries, minProb, limit)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	h.writeJSON(w, http.StatusOK, out)
}

func parseFilter(r *http.Request) (float64, int, error) {
	q := r.URL.Query()
	minProb := 0.0
	if v := q.Get("min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return 0, 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "min must be a probability, got %q", v)
		}
		minProb = f
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a non-negative integer, got %q", v)
		}
		limit = n
	}
	return minProb, limit, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write dictionary response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("dictionary request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": fmt.Sprint(err)})
}
