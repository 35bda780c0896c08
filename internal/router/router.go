// Package router delivers point-to-point and broadcast messages between
// registered agents. Delivery is a direct, synchronous in-process fan-out:
// there is no queue and no persistence.
package router

import (
	"sync"
	"time"

	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/registry"
)

// DeliveryObserver is invoked once per routed message. Broadcasts produce
// a single event with an empty To.
type DeliveryObserver func(msg domain.Message)

// Router routes messages by agent id.
type Router struct {
	agents *registry.Agents

	mu        sync.RWMutex
	observers []DeliveryObserver
}

// New creates a router over the given agent registry.
func New(agents *registry.Agents) *Router {
	return &Router{agents: agents}
}

// Subscribe adds a delivery observer.
func (r *Router) Subscribe(obs DeliveryObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Send routes a message. The sender must be registered; a named recipient
// must be registered too. An empty recipient broadcasts to every agent
// except the sender.
func (r *Router) Send(from, to string, content []byte) (*domain.DeliveryReceipt, error) {
	if r.agents.Get(from) == nil {
		return nil, domain.ErrSenderNotRegistered
	}
	if to != "" && r.agents.Get(to) == nil {
		return nil, domain.ErrRecipientNotRegistered
	}

	msg := domain.Message{
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now(),
	}
	r.emit(msg)

	return &domain.DeliveryReceipt{Status: "delivered", Timestamp: msg.Timestamp}, nil
}

func (r *Router) emit(msg domain.Message) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()

	for _, obs := range observers {
		obs(msg)
	}
}
