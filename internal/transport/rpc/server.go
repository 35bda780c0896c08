package rpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"sync"
)

// maxLineSize bounds a single JSON-RPC envelope line.
const maxLineSize = 1 << 20

// Server accepts TCP connections and runs one session per connection.
type Server struct {
	handler *Handler

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a TCP JSON-RPC server.
func NewServer(handler *Handler) *Server {
	return &Server{handler: handler, done: make(chan struct{})}
}

// Start begins accepting connections on the given address and blocks until
// the listener is closed.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.serveConn(conn)
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveConn frames the byte stream on newlines and feeds complete lines to
// the session. Connection teardown cancels in-flight handlers; a failure
// on one connection never touches another's state.
func (s *Server) serveConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())

	session := NewSession(s.handler, func(data []byte) error {
		_, err := conn.Write(append(data, '\n'))
		return err
	})

	defer func() {
		cancel()
		session.Wait()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer across iterations.
		session.HandleLine(ctx, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		log.Printf("connection read error: %v", err)
	}
}
