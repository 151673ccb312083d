// Package mqtt provides the MQTT publisher Relaybox uses to wake devices.
//
// When a command is queued, Relaybox publishes a small wake message to
// relaybox/devices/{deviceId}/wake. Devices that hold an MQTT connection can
// poll immediately instead of waiting for their next scheduled poll. The
// mailbox stays authoritative: a lost wake message only delays delivery.
//
// The client also maintains a retained online/offline status on
// relaybox/system/status, with a Last Will so an unexpected disconnect is
// visible to subscribers.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.DeviceWake("phone-1"), payload, 1, false)
//
// # Thread Safety
//
// All Client methods are safe for concurrent use.
package mqtt
