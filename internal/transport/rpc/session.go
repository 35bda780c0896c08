package rpc

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// Session is the per-connection JSON-RPC state. Each complete input line
// is parsed as one envelope and handled in its own goroutine, so a slow
// tool call never blocks intake of further lines on the same connection.
// Responses are serialized through the write callback in the order their
// processing completes; request ids are echoed back verbatim.
type Session struct {
	handler *Handler

	writeMu   sync.Mutex
	writeLine func([]byte) error

	wg sync.WaitGroup
}

// NewSession creates a session writing responses through writeLine. The
// callback receives one marshaled envelope per call, without a trailing
// newline; the transport owns framing.
func NewSession(handler *Handler, writeLine func([]byte) error) *Session {
	return &Session{handler: handler, writeLine: writeLine}
}

// HandleLine processes one complete input line. A malformed line yields a
// parse-error response with a null id and leaves the connection usable.
func (s *Session) HandleLine(ctx context.Context, line []byte) {
	var req domain.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(domain.NewErrorResponse(nil, domain.CodeParseError, "Parse error", nil))
		return
	}

	// Lines without a method are response echoes or noise; drop them.
	if req.Method == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.handler.Dispatch(ctx, &req)
		if resp == nil {
			return
		}
		s.reply(resp)
	}()
}

// Wait blocks until all in-flight requests have completed. Called after
// the transport stops feeding lines.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) reply(resp *domain.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("WARN: failed to marshal response: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.writeLine(data); err != nil {
		log.Printf("WARN: failed to write response: %v", err)
	}
}
