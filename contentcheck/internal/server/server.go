// CLAUDE:SUMMARY chi HTTP API exposing key-value store records so notification and log locators resolve.
// Package server exposes stored records over HTTP:
//
//	GET /health
//	GET /v2/key-value-stores/{storeID}/keys
//	GET /v2/key-value-stores/{storeID}/records/{key}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/contentcheck/contentcheck/internal/kvstore"
	"github.com/hazyhaar/contentcheck/horosafe"
)

// Stores resolves store IDs.
type Stores interface {
	StoreByID(ctx context.Context, id string) (*kvstore.Store, error)
}

// New returns the record API handler.
func New(stores Stores, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{stores: stores, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, headToGet, recordHeaders)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v2/key-value-stores/{storeID}", func(r chi.Router) {
		r.Get("/keys", h.keys)
		r.Get("/records/{key}", h.record)
	})
	return r
}

type handler struct {
	stores Stores
	logger *slog.Logger
}

func (h *handler) store(w http.ResponseWriter, r *http.Request) (*kvstore.Store, bool) {
	id := chi.URLParam(r, "storeID")
	if err := horosafe.ValidateIdentifier(id); err != nil {
		http.Error(w, "invalid store id", http.StatusBadRequest)
		return nil, false
	}
	st, err := h.stores.StoreByID(r.Context(), id)
	if errors.Is(err, kvstore.ErrNotFound) {
		http.Error(w, "store not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("server: lookup store", "store", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return st, true
}

func (h *handler) keys(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	keys, err := st.Keys(r.Context())
	if err != nil {
		h.logger.Error("server: list keys", "store", st.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"storeId": st.ID,
		"name":    st.Name,
		"keys":    keys,
	})
}

func (h *handler) record(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := horosafe.ValidateKey(key); err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	rec, err := st.Get(r.Context(), key)
	if errors.Is(err, kvstore.ErrNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("server: get record", "store", st.ID, "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Value)))
	w.Header().Set("Last-Modified", rec.UpdatedAt.UTC().Format(http.TimeFormat))
	w.Write(rec.Value)
}
