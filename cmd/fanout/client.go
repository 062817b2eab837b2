package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/koicert/registry/common/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 5) / 6

	// Watchers only ever answer pings
	maxInboundSize = 512

	sendBuffer = 64
)

// Client is one websocket watcher of a record, or of every record
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	recordID string
	send     chan models.RegistryEvent

	// Highest sequence written per record; only touched by writePump
	written map[string]int
}

// NewClient creates a watcher of recordID
func NewClient(hub *Hub, conn *websocket.Conn, recordID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		recordID: recordID,
		send:     make(chan models.RegistryEvent, sendBuffer),
		written:  make(map[string]int),
	}
}

// fresh reports whether event moves its record forward for this watcher
// Queue redeliveries carry a sequence the watcher has already seen.
func (c *Client) fresh(event models.RegistryEvent) bool {
	if event.Sequence <= 0 {
		return true
	}
	if event.Sequence <= c.written[event.RecordID] {
		return false
	}
	c.written[event.RecordID] = event.Sequence
	return true
}

// readPump keeps the read deadline alive and notices disconnects
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("watcher gone", "record_id", c.recordID, "error", err)
			}
			return
		}
	}
}

// writePump writes each fresh event as its own JSON frame
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "watch ended"))
				return
			}
			if !c.fresh(event) {
				continue
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.hub.log.Debug("event write failed", "record_id", event.RecordID, "error", err)
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
