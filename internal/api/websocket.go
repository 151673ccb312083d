package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// feedSendQueue is the per-client event queue length.
	feedSendQueue = 64

	// feedReplyQueue is the per-client queue for acks, pongs and errors.
	feedReplyQueue = 8
)

// Browsers are admitted from any origin; the CORS middleware and admin
// credentials gate access.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// feedClient is one admin WebSocket connection.
//
// The hub owns send and closes it on disconnect. replies is written only by
// the read loop and is never closed.
type feedClient struct {
	conn    *websocket.Conn
	send    chan []byte
	replies chan []byte

	mu     sync.RWMutex
	events map[string]struct{}
}

func (c *feedClient) wants(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.events[feedAllEvents]; ok {
		return true
	}
	_, ok := c.events[event]
	return ok
}

func (c *feedClient) subscribe(events []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if on {
			c.events[e] = struct{}{}
		} else {
			delete(c.events, e)
		}
	}
}

// reply queues a direct response. Replies are dropped if the client has
// stopped reading.
func (c *feedClient) reply(msg FeedMessage) {
	msg.At = time.Now().UTC().Format(timeFormat)
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.replies <- frame:
	default:
	}
}

// handleWebSocket upgrades an admin connection to the event feed.
// Credentials come from the usual headers or, for browsers, ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeAdmin(r, r.URL.Query().Get("token")); err != nil {
		writeUnauthorized(w, "admin authorisation required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		conn:    conn,
		send:    make(chan []byte, feedSendQueue),
		replies: make(chan []byte, feedReplyQueue),
		events:  make(map[string]struct{}),
	}
	if !s.hub.join(c) {
		conn.Close()
		return
	}

	go s.writeFeed(c)
	go s.readFeed(c)
}

// readFeed handles client requests until the connection fails.
func (s *Server) readFeed(c *feedClient) {
	defer func() {
		s.hub.leave(c)
		c.conn.Close()
	}()

	idle := time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("admin feed read failed", "error", err)
			}
			return
		}
		// Application-level traffic counts as liveness too.
		extend() //nolint:errcheck // as above

		var req FeedRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(FeedMessage{Type: FeedTypeError, Data: map[string]string{"message": "invalid JSON"}})
			continue
		}

		switch req.Action {
		case FeedActionSubscribe, FeedActionUnsubscribe:
			on := req.Action == FeedActionSubscribe
			c.subscribe(req.Events, on)
			c.reply(FeedMessage{Type: FeedTypeAck, ID: req.ID, Data: map[string]any{req.Action + "d": req.Events}})
		case FeedActionPing:
			c.reply(FeedMessage{Type: FeedTypePong, ID: req.ID})
		default:
			c.reply(FeedMessage{
				Type: FeedTypeError,
				ID:   req.ID,
				Data: map[string]string{"message": "unknown action: " + req.Action},
			})
		}
	}
}

// writeFeed drains events and replies onto the connection and sends
// keepalive pings. It exits when the hub closes send or a write fails.
func (s *Server) writeFeed(c *feedClient) {
	ping := time.NewTicker(time.Duration(s.wsCfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error reported below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case frame, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is closing anyway
				return
			}
			err = write(websocket.TextMessage, frame)
		case frame := <-c.replies:
			err = write(websocket.TextMessage, frame)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}
