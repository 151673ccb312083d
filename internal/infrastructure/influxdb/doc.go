// Package influxdb records Relaybox mailbox activity in InfluxDB.
//
// Every queued, delivered, superseded or evicted command and every telemetry
// upload becomes a point in the "mailbox_events" or "telemetry_uploads"
// measurement, tagged by device. Operators use these series to see which
// devices are backing up and how often they poll.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	dispatcher.SetRecorder(client)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; async write errors are
// delivered to the SetOnError callback.
package influxdb
