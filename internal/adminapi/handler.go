// Package adminapi exposes service metadata management as plain
// JSON-over-HTTP, rather than generated RPC stubs: create, update, get,
// list, and partition assignment for the services this cluster ingests
// on behalf of.
package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"shardindex/internal/coordination"
	"shardindex/internal/logging"
	"shardindex/internal/metadatastore"
)

// Handler serves the admin HTTP surface over a ServiceMetadataStore.
type Handler struct {
	store  *metadatastore.ServiceMetadataStore
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Handler and wires its routes.
func New(store *metadatastore.ServiceMetadataStore, logger *slog.Logger) *Handler {
	h := &Handler{
		store:  store,
		logger: logging.Default(logger).With("component", "adminapi"),
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /services", h.handleCreate)
	h.mux.HandleFunc("GET /services", h.handleList)
	h.mux.HandleFunc("GET /services/{name}", h.handleGet)
	h.mux.HandleFunc("PUT /services/{name}", h.handleUpdate)
	h.mux.HandleFunc("POST /services/{name}/partitions", h.handleUpdatePartitionAssignment)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var meta metadatastore.ServiceMetadata
	if !decodeJSON(w, r, &meta) {
		return
	}
	if meta.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	err := h.store.Create(r.Context(), meta)
	if h.writeStoreError(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	meta, err := h.store.Get(r.Context(), name)
	if h.writeStoreError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListCached())
}

// handleUpdate implements UpdateServiceMetadata{name, owner}: it changes
// only the owner field of an existing service, it does not replace the
// record wholesale.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Owner string `json:"owner"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	err := h.store.UpdateOwner(r.Context(), name, body.Owner)
	if h.writeStoreError(w, err) {
		return
	}

	meta, err := h.store.Get(r.Context(), name)
	if h.writeStoreError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleUpdatePartitionAssignment implements UpdatePartitionAssignment{
// name, throughputBytes, partitionIds}: throughputBytes of
// metadatastore.KeepThroughput (-1) leaves the existing budget in place.
func (h *Handler) handleUpdatePartitionAssignment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body := struct {
		ThroughputBytes int64    `json:"throughputBytes"`
		PartitionIDs    []string `json:"partitionIds"`
	}{ThroughputBytes: metadatastore.KeepThroughput}
	if !decodeJSON(w, r, &body) {
		return
	}

	err := h.store.UpdatePartitionAssignment(r.Context(), name, body.ThroughputBytes, body.PartitionIDs)
	if errors.Is(err, metadatastore.ErrAutoAssignUnsupported) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.writeStoreError(w, err) {
		return
	}

	meta, err := h.store.Get(r.Context(), name)
	if h.writeStoreError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// writeStoreError maps a coordination-layer error to an HTTP response
// and reports whether it wrote one (false means err was nil).
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, coordination.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coordination.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, coordination.ErrVersionStale):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, coordination.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, metadatastore.ErrCorrupt):
		writeError(w, http.StatusInternalServerError, err)
	default:
		h.logger.Error("admin api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
