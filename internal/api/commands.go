package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// commandRoute binds a URL segment under /commands to a command kind.
type commandRoute struct {
	path string
	kind mailbox.Kind
}

var commandRoutes = []commandRoute{
	{"sms", mailbox.KindSMS},
	{"contacts", mailbox.KindContactSync},
	{"device-details", mailbox.KindDeviceDetails},
	{"ussd", mailbox.KindUSSD},
	{"media", mailbox.KindMediaRequest},
}

// dispatchRequest is the union of every command body. Fields that do not
// apply to the route's kind are ignored.
type dispatchRequest struct {
	DeviceID string `json:"deviceId"`
	Number   string `json:"number"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	SimSlot  *int   `json:"simSlot"`
}

// handleDispatch returns a handler that queues a command of kind.
func (s *Server) handleDispatch(kind mailbox.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dispatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		payload := mailbox.Payload{
			Number:  req.Number,
			Message: req.Message,
			Code:    req.Code,
			SimSlot: req.SimSlot,
		}
		cmd, err := s.dispatcher.Dispatch(r.Context(), req.DeviceID, kind, payload)
		if err != nil && !errors.Is(err, device.ErrPersist) {
			s.writeDomainError(w, r, err)
			return
		}
		if err != nil {
			// Queued in memory; the device will still receive it.
			s.logger.Warn("command queued without persistence",
				"device_id", req.DeviceID,
				"command_id", cmd.ID,
				"error", err,
			)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  "queued",
			"command": cmd,
		})
	}
}
