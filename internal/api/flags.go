package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type flagBody struct {
	Value *bool `json:"value"`
}

// handleSetFlag raises or clears a named wait flag.
func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	var body flagBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
	if err := s.registry.SetFlag(r.Context(), id, name, *body.Value); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleGetFlag is the wait poll: it reports a flag without touching the
// command queue. Unknown devices and unset flags read false.
func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	value := s.poller.WaitFlag(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	writeJSON(w, http.StatusOK, map[string]bool{"value": value})
}
