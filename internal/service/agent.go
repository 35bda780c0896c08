package service

import (
	"context"
	"log"

	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/history"
)

// RegisterAgent registers an agent, generating an id when none is given.
// Re-registering an existing id replaces the record and keeps the id.
func (s *Service) RegisterAgent(ctx context.Context, agentID, name, role string, capabilities []string) (*domain.Agent, error) {
	agent, err := s.agents.Register(agentID, name, role, capabilities)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.RecordAgentEvent(ctx, *agent, history.ActionRegistered); err != nil {
			log.Printf("WARN: failed to record agent registration: %v", err)
		}
	}
	return agent, nil
}

// DeregisterAgent removes an agent. Optional extension method: core
// routing never depends on it.
func (s *Service) DeregisterAgent(ctx context.Context, agentID string) error {
	agent := s.agents.Get(agentID)
	if err := s.agents.Deregister(agentID); err != nil {
		return err
	}

	if s.history != nil && agent != nil {
		if err := s.history.RecordAgentEvent(ctx, *agent, history.ActionDeregistered); err != nil {
			log.Printf("WARN: failed to record agent deregistration: %v", err)
		}
	}
	return nil
}

// GetAgent returns an agent by id, or nil when unknown.
func (s *Service) GetAgent(ctx context.Context, agentID string) *domain.Agent {
	return s.agents.Get(agentID)
}

// ListAgents returns a snapshot of all registered agents.
func (s *Service) ListAgents(ctx context.Context) []domain.Agent {
	return s.agents.List()
}
