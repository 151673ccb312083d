package api

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nerrad567/relaybox/internal/infrastructure/config"
	"github.com/nerrad567/relaybox/internal/infrastructure/logging"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

// Admin feed event names. Clients subscribe to these, or to "*".
const (
	EventCommandQueued    = "command.queued"
	EventCommandDelivered = "command.delivered"
	EventTelemetryUpdated = "telemetry.updated"
	EventDeviceRegistered = "device.registered"

	feedAllEvents = "*"
)

// Feed message types sent to clients.
const (
	FeedTypeEvent = "event"
	FeedTypeAck   = "ack"
	FeedTypePong  = "pong"
	FeedTypeError = "error"
)

// Feed request actions sent by clients.
const (
	FeedActionSubscribe   = "subscribe"
	FeedActionUnsubscribe = "unsubscribe"
	FeedActionPing        = "ping"
)

const (
	// feedBacklog is how many undelivered events the hub buffers.
	feedBacklog = 256

	timeFormat = time.RFC3339
)

// FeedMessage is one frame sent to an admin feed client.
type FeedMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	At    string `json:"at,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// FeedRequest is one frame received from an admin feed client.
type FeedRequest struct {
	Action string   `json:"action"`
	ID     string   `json:"id,omitempty"`
	Events []string `json:"events,omitempty"`
}

type feedEvent struct {
	name string
	data []byte
}

// Hub fans mailbox events out to admin WebSocket clients.
//
// A single goroutine (Run) owns the client set. Slow clients whose queue is
// full are disconnected rather than allowed to stall the feed.
// Hub satisfies dispatch.Notifier and poll.DeliveryListener.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	register   chan *feedClient
	unregister chan *feedClient
	events     chan feedEvent
	done       chan struct{}

	running atomic.Bool
	count   atomic.Int64
}

// NewHub creates a hub. Events are buffered until Run is called.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		events:     make(chan feedEvent, feedBacklog),
		done:       make(chan struct{}),
	}
}

// Run serves clients until ctx is cancelled, then disconnects them all.
// Calls after the first return immediately.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}

	clients := make(map[*feedClient]struct{})
	drop := func(c *feedClient) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		h.count.Store(int64(len(clients)))
		close(c.send)
	}
	defer func() {
		for c := range clients {
			drop(c)
			if c.conn != nil {
				c.conn.Close()
			}
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			clients[c] = struct{}{}
			h.count.Store(int64(len(clients)))
			h.logger.Debug("admin feed client connected", "clients", len(clients))

		case c := <-h.unregister:
			drop(c)
			h.logger.Debug("admin feed client disconnected", "clients", len(clients))

		case ev := <-h.events:
			sent := 0
			for c := range clients {
				if !c.wants(ev.name) {
					continue
				}
				select {
				case c.send <- ev.data:
					sent++
				default:
					h.logger.Warn("admin feed client too slow; disconnecting", "event", ev.name)
					drop(c)
				}
			}
			if sent > 0 {
				h.logger.Debug("admin feed event sent", "event", ev.name, "recipients", sent)
			}
		}
	}
}

// join hands c to the hub. It reports false once the hub has stopped.
func (h *Hub) join(c *feedClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave removes c from the hub, if it is still running.
func (h *Hub) leave(c *feedClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues an event for every client subscribed to name.
// It never blocks; events are dropped when the backlog is full.
func (h *Hub) Broadcast(name string, data any) {
	frame, err := json.Marshal(FeedMessage{
		Type:  FeedTypeEvent,
		Event: name,
		At:    time.Now().UTC().Format(timeFormat),
		Data:  data,
	})
	if err != nil {
		h.logger.Error("encoding admin feed event failed", "event", name, "error", err)
		return
	}

	select {
	case h.events <- feedEvent{name: name, data: frame}:
	case <-h.done:
	default:
		h.logger.Warn("admin feed backlog full; event dropped", "event", name)
	}
}

// ClientCount returns the number of connected feed clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// NotifyCommand publishes a queued command to the feed.
func (h *Hub) NotifyCommand(_ context.Context, deviceID string, cmd mailbox.Command) error {
	h.Broadcast(EventCommandQueued, map[string]any{
		"deviceId": deviceID,
		"command":  cmd,
	})
	return nil
}

// CommandsDelivered publishes the ids of commands handed to a polling device.
// Payloads are left out; admins already saw them on command.queued.
func (h *Hub) CommandsDelivered(deviceID string, cmds []mailbox.Command, superseded int) {
	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.ID
	}
	h.Broadcast(EventCommandDelivered, map[string]any{
		"deviceId":   deviceID,
		"commandIds": ids,
		"superseded": superseded,
	})
}
