package mqtt

import "strings"

// TopicPrefix is the root of every Relaybox topic.
const TopicPrefix = "relaybox"

// Topics builds Relaybox MQTT topic names.
//
//	mqtt.Topics{}.DeviceWake("phone-1") // relaybox/devices/phone-1/wake
type Topics struct{}

// DeviceWake is where wake messages for a device are published.
func (Topics) DeviceWake(deviceID string) string {
	return TopicPrefix + "/devices/" + escapeSegment(deviceID) + "/wake"
}

// DeviceWakeAll is a subscription filter matching every device's wake topic.
func (Topics) DeviceWakeAll() string {
	return TopicPrefix + "/devices/+/wake"
}

// SystemStatus carries the retained online/offline status of the server.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// segmentReplacer neutralises characters with meaning in MQTT topic names.
var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_", "\x00", "")

// escapeSegment makes an arbitrary device ID safe as a single topic level.
func escapeSegment(s string) string {
	return segmentReplacer.Replace(s)
}
