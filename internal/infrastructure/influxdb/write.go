package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementMailboxEvents    = "mailbox_events"
	MeasurementTelemetryUploads = "telemetry_uploads"
)

// RecordMailboxEvent writes one mailbox event, such as "command_queued" or
// "commands_delivered", with the number of commands it affected.
// Satisfies the dispatch and poll Recorder interfaces.
func (c *Client) RecordMailboxEvent(deviceID, event string, count int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(mailboxEventPoint(deviceID, event, count, time.Now()))
}

// RecordTelemetryUpload writes one telemetry upload with its body size in bytes.
func (c *Client) RecordTelemetryUpload(deviceID, slot string, size int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(telemetryUploadPoint(deviceID, slot, size, time.Now()))
}

func mailboxEventPoint(deviceID, event string, count int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMailboxEvents,
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]any{
			"count": int64(count),
		},
		ts,
	)
}

func telemetryUploadPoint(deviceID, slot string, size int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTelemetryUploads,
		map[string]string{
			"device_id": deviceID,
			"slot":      slot,
		},
		map[string]any{
			"bytes": int64(size),
		},
		ts,
	)
}
