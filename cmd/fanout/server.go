package main

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/common/logger"
)

// Events carry public certificate data, any page may watch them
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server handles WebSocket connections
type Server struct {
	hub *Hub
	log *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, log *logger.Logger) *Server {
	return &Server{
		hub: hub,
		log: log,
	}
}

// HandleWebSocket upgrades and registers a watcher
// GET /ws?id=KOI-001 (no id watches every certificate)
func (s *Server) HandleWebSocket(c echo.Context) error {
	recordID := c.QueryParam("id")
	if recordID == "" {
		recordID = AllRecords
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.log.Debug("websocket upgrade failed", "error", err)
		return nil
	}

	client := NewClient(s.hub, conn, recordID)
	if !s.hub.Register(client) {
		conn.Close()
		return nil
	}

	s.log.Debug("new websocket connection", "record_id", recordID, "remote", c.RealIP())

	go client.writePump()
	go client.readPump()
	return nil
}

// HandleStats reports connection counts
// GET /stats
func (s *Server) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"connections": s.hub.GetConnectionCount(),
		"records":     s.hub.GetRecordCount(),
	})
}
