package service

import (
	"context"
	"encoding/json"

	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/registry"
)

// ListTools returns the descriptors of all registered tools.
func (s *Service) ListTools(ctx context.Context) []registry.Descriptor {
	return s.dispatcher.List()
}

// CallTool invokes a tool through the dispatcher's resilience stack.
func (s *Service) CallTool(ctx context.Context, toolName string, args json.RawMessage) (*domain.Result, error) {
	return s.dispatcher.Call(ctx, toolName, args)
}
