package api

import (
	"net/http"

	"github.com/nerrad567/relaybox/internal/device"
)

// registerRequest is the body of POST /devices/register.
type registerRequest struct {
	DeviceID string `json:"deviceId"`
	Model    string `json:"model"`
}

// handleRegisterDevice creates a device or refreshes an existing one.
// Re-registration never clears the mailbox.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dev, created, err := s.registry.Register(r.Context(), req.DeviceID, req.Model)
	if err != nil && dev.ID == "" {
		s.writeDomainError(w, r, err)
		return
	}
	if created {
		s.hub.Broadcast(EventDeviceRegistered, dev)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"created": created,
		"device":  dev,
	})
}

// handleListDevices returns every device in registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []device.Device
		err     error
	)
	switch secret := r.Header.Get(headerAdminSecret); {
	case secret != "":
		devices, err = s.admin.ListDevices(secret)
	case bearerToken(r) != "":
		devices, err = s.admin.ListDevicesWithToken(bearerToken(r))
	default:
		devices, err = s.admin.ListDevices("")
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Devices          int            `json:"devices"`
	Pending          int            `json:"pending"`
	WebSocketClients int            `json:"websocket_clients"`
	Snapshot         *snapshotStats `json:"snapshot,omitempty"`
}

type snapshotStats struct {
	TakenAt     string `json:"taken_at"`
	Encoding    string `json:"encoding"`
	DeviceCount int    `json:"device_count"`
	Bytes       int    `json:"bytes"`
}

// handleStats returns registry totals and, with persistence on, the last snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.registry.Stats()
	resp := statsResponse{
		Devices:          st.Devices,
		Pending:          st.Pending,
		WebSocketClients: s.hub.ClientCount(),
	}

	if s.store != nil {
		info, found, err := s.store.Stat(r.Context())
		if err != nil {
			s.logger.Warn("reading snapshot info failed", "error", err)
		} else if found {
			resp.Snapshot = &snapshotStats{
				TakenAt:     info.TakenAt.UTC().Format(timeFormat),
				Encoding:    info.Encoding,
				DeviceCount: info.DeviceCount,
				Bytes:       info.Bytes,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
