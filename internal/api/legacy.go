package api

import (
	"net/http"

	"github.com/nerrad567/relaybox/internal/mailbox"
)

// legacySetRequest is the body older clients send to /setcmd.
type legacySetRequest struct {
	Device string `json:"device"`
	Open   bool   `json:"open"`
}

// handleLegacySetCommand sets the "open" wait flag and answers with plain OK.
func (s *Server) handleLegacySetCommand(w http.ResponseWriter, r *http.Request) {
	var req legacySetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Device == "" {
		writeBadRequest(w, "device is required")
		return
	}
	if err := s.registry.SetFlag(r.Context(), req.Device, mailbox.FlagOpen, req.Open); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck // Best-effort write
}

// handleLegacyGetCommand reports the "open" wait flag as {"open": bool}.
func (s *Server) handleLegacyGetCommand(w http.ResponseWriter, r *http.Request) {
	open := s.poller.WaitFlag(r.Context(), r.URL.Query().Get("device"), mailbox.FlagOpen)
	writeJSON(w, http.StatusOK, map[string]bool{"open": open})
}
