package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/relaybox/internal/poll"
)

// headerSuperseded reports how many older commands a latest_only poll discarded.
const headerSuperseded = "X-Relaybox-Superseded"

// pollRequest is the optional body of POST /poll.
type pollRequest struct {
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
}

// handlePoll drains the device's pending commands and returns them as a JSON
// array, oldest first. Unknown devices get [].
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	req := pollRequest{
		DeviceID: r.URL.Query().Get("deviceId"),
		Mode:     r.URL.Query().Get("mode"),
	}
	if r.Method == http.MethodPost && req.DeviceID == "" {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "deviceId is required")
		return
	}

	mode := s.poller.Mode()
	if req.Mode != "" {
		m, err := poll.ParseMode(req.Mode)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		mode = m
	}

	res := s.poller.PollMode(r.Context(), req.DeviceID, mode)
	if res.Superseded > 0 {
		w.Header().Set(headerSuperseded, strconv.Itoa(res.Superseded))
	}
	writeJSON(w, http.StatusOK, res.Commands)
}
