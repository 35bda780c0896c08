// Package rpc implements the broker's newline-delimited JSON-RPC 2.0
// protocol surface over TCP.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/xiaot623/agentmesh/internal/dispatch"
	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/service"
)

// Handler dispatches parsed JSON-RPC requests to the service layer. It is
// shared by every connection and transport (TCP and WebSocket).
type Handler struct {
	svc *service.Service
}

// NewHandler creates a protocol handler over the service.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Dispatch handles one request and returns the response to write, or nil
// for notifications. It never panics across this boundary: unexpected
// failures become internal-error responses.
func (h *Handler) Dispatch(ctx context.Context, req *domain.Request) (resp *domain.Response) {
	notification := req.Notification()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARN: panic handling %s: %v", req.Method, r)
			if notification {
				resp = nil
				return
			}
			resp = domain.NewErrorResponse(req.ID, domain.CodeInternalError, "Internal error", nil)
		}
	}()

	// Failure injection applies to every parsed request, before method
	// lookup, matching how real downstream outages present themselves.
	if inj := h.svc.Injector(); inj != nil {
		if err := inj.Inject(ctx); err != nil {
			if notification {
				return nil
			}
			return domain.NewErrorResponse(req.ID, domain.CodeInternalError,
				"Internal error", "simulated failure for testing")
		}
	}

	result, rpcErr := h.handleMethod(ctx, req)
	if notification {
		return nil
	}
	if rpcErr != nil {
		return domain.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	return domain.NewResponse(req.ID, result)
}

func (h *Handler) handleMethod(ctx context.Context, req *domain.Request) (interface{}, *domain.RPCError) {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(ctx, req.Params)
	case "ping":
		return map[string]interface{}{"pong": true, "timestamp": time.Now().Format(time.RFC3339Nano)}, nil
	case "tools/list":
		return map[string]interface{}{"tools": h.svc.ListTools(ctx)}, nil
	case "tools/call":
		return h.handleToolCall(ctx, req.Params)
	case "agent/register":
		return h.handleAgentRegister(ctx, req.Params)
	case "agent/message":
		return h.handleAgentMessage(ctx, req.Params)
	case "agent/deregister":
		return h.handleAgentDeregister(ctx, req.Params)
	case "agent/list":
		return map[string]interface{}{"agents": h.svc.ListAgents(ctx)}, nil
	default:
		return nil, &domain.RPCError{Code: domain.CodeMethodNotFound, Message: "Method not found"}
	}
}

func (h *Handler) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, *domain.RPCError) {
	return map[string]interface{}{
		"protocolVersion": service.ProtocolVersion,
		"capabilities": map[string]bool{
			"tools":  true,
			"agents": true,
		},
		"serverInfo": map[string]string{
			"name":    service.ServerName,
			"version": service.ServerVersion,
		},
	}, nil
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handler) handleToolCall(ctx context.Context, params json.RawMessage) (interface{}, *domain.RPCError) {
	var p ToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.ToolName == "" {
		return nil, invalidParams("toolName is required")
	}

	result, err := h.svc.CallTool(ctx, p.ToolName, p.Arguments)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownTool) {
			return nil, invalidParams("Unknown tool")
		}
		log.Printf("WARN: tools/call %s failed: %v", p.ToolName, err)
		return nil, &domain.RPCError{Code: domain.CodeInternalError, Message: "Internal error"}
	}

	text, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, &domain.RPCError{Code: domain.CodeInternalError, Message: "Internal error"}
	}
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	}, nil
}

// AgentRegisterParams are the params of an agent/register request.
type AgentRegisterParams struct {
	AgentID      string   `json:"agentId"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) handleAgentRegister(ctx context.Context, params json.RawMessage) (interface{}, *domain.RPCError) {
	var p AgentRegisterParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	agent, err := h.svc.RegisterAgent(ctx, p.AgentID, p.Name, p.Role, p.Capabilities)
	if err != nil {
		return nil, invalidParams(serviceMessage(err))
	}
	return map[string]interface{}{
		"agentId": agent.ID,
		"status":  "registered",
	}, nil
}

// AgentMessageParams are the params of an agent/message request.
type AgentMessageParams struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Content json.RawMessage `json:"content"`
}

func (h *Handler) handleAgentMessage(ctx context.Context, params json.RawMessage) (interface{}, *domain.RPCError) {
	var p AgentMessageParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	receipt, err := h.svc.SendMessage(ctx, p.From, p.To, p.Content)
	if err != nil {
		return nil, invalidParams(serviceMessage(err))
	}
	return receipt, nil
}

// AgentDeregisterParams are the params of an agent/deregister request.
type AgentDeregisterParams struct {
	AgentID string `json:"agentId"`
}

func (h *Handler) handleAgentDeregister(ctx context.Context, params json.RawMessage) (interface{}, *domain.RPCError) {
	var p AgentDeregisterParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.AgentID == "" {
		return nil, invalidParams("agentId is required")
	}

	if err := h.svc.DeregisterAgent(ctx, p.AgentID); err != nil {
		return nil, invalidParams(serviceMessage(err))
	}
	return map[string]interface{}{
		"agentId": p.AgentID,
		"status":  "deregistered",
	}, nil
}

func unmarshalParams(params json.RawMessage, v interface{}) *domain.RPCError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("Invalid params")
	}
	return nil
}

func invalidParams(message string) *domain.RPCError {
	return &domain.RPCError{Code: domain.CodeInvalidParams, Message: message}
}

func serviceMessage(err error) string {
	if se, ok := domain.AsServiceError(err); ok {
		return se.Message
	}
	return err.Error()
}
