// Package ws bridges WebSocket clients onto the JSON-RPC session: each
// text frame carries one envelope, responses come back as text frames.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmesh/internal/transport/rpc"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 120 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// Server handles WebSocket connections.
type Server struct {
	handler  *rpc.Handler
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket bridge over the protocol handler.
func NewServer(handler *rpc.Handler) *Server {
	return &Server{
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs a session over it.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	go s.serve(ws)
	return nil
}

func (s *Server) serve(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())

	var writeMu sync.Mutex
	session := rpc.NewSession(s.handler, func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	})

	pingDone := make(chan struct{})
	go s.pingLoop(ws, &writeMu, pingDone)

	defer func() {
		cancel()
		close(pingDone)
		session.Wait()
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		session.HandleLine(ctx, message)
	}
}

func (s *Server) pingLoop(ws *websocket.Conn, writeMu *sync.Mutex, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
