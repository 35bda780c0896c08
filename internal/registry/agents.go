// Package registry holds the process-wide agent and tool registries. Both
// are explicitly constructed and injected into the service layer so tests
// can build a fresh registry per case.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/agentmesh/internal/domain"
)

// AgentObserver is notified after every successful registration.
type AgentObserver func(agent domain.Agent)

// Agents is the in-memory agent registry. Records live for the process
// lifetime unless explicitly deregistered.
type Agents struct {
	mu        sync.RWMutex
	records   map[string]*domain.Agent
	order     []string
	observers []AgentObserver
}

// NewAgents creates an empty agent registry.
func NewAgents() *Agents {
	return &Agents{records: make(map[string]*domain.Agent)}
}

// Subscribe adds an observer called after each registration. Must be
// called before the registry is shared across goroutines.
func (a *Agents) Subscribe(obs AgentObserver) {
	a.observers = append(a.observers, obs)
}

// Register adds an agent. An empty id generates a fresh unique one;
// re-registering an existing id replaces the record (crash recovery) and
// keeps that id. Duplicate names coexist under distinct ids. Missing name
// or role is a validation error.
func (a *Agents) Register(id, name, role string, capabilities []string) (*domain.Agent, error) {
	if name == "" {
		return nil, domain.NewServiceError(domain.CodeValidationError, "agent name is required", nil)
	}
	if role == "" {
		return nil, domain.NewServiceError(domain.CodeValidationError, "agent role is required", nil)
	}

	agent := &domain.Agent{
		ID:           id,
		Name:         name,
		Role:         role,
		Capabilities: dedupe(capabilities),
		RegisteredAt: time.Now(),
	}
	if agent.ID == "" {
		agent.ID = "agt_" + uuid.New().String()[:8]
	}

	a.mu.Lock()
	if _, exists := a.records[agent.ID]; !exists {
		a.order = append(a.order, agent.ID)
	}
	a.records[agent.ID] = agent
	observers := a.observers
	a.mu.Unlock()

	for _, obs := range observers {
		obs(*agent)
	}
	return agent, nil
}

// Get returns the agent for id, or nil when unknown.
func (a *Agents) Get(id string) *domain.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if agent, ok := a.records[id]; ok {
		copied := *agent
		return &copied
	}
	return nil
}

// List returns a snapshot of all agents in registration order.
func (a *Agents) List() []domain.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	agents := make([]domain.Agent, 0, len(a.order))
	for _, id := range a.order {
		if agent, ok := a.records[id]; ok {
			agents = append(agents, *agent)
		}
	}
	return agents
}

// Deregister removes an agent by id.
func (a *Agents) Deregister(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.records[id]; !ok {
		return domain.ErrAgentNotFound
	}
	delete(a.records, id)
	for i, existing := range a.order {
		if existing == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes all agents.
func (a *Agents) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]*domain.Agent)
	a.order = nil
}

// Count returns the number of registered agents.
func (a *Agents) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
