package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ExecutorFunc defines a server-side tool executor.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Descriptor describes a registered tool. InputSchema is a JSON Schema
// document; the dispatcher interprets it before invocation, the router
// never looks inside.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolEntry struct {
	desc Descriptor
	exec ExecutorFunc
}

// Tools stores tool executors keyed by tool name. Tools are registered at
// startup and immutable for the process lifetime.
type Tools struct {
	mu      sync.RWMutex
	entries map[string]toolEntry
	order   []string
}

// NewTools creates an empty tool registry.
func NewTools() *Tools {
	return &Tools{entries: make(map[string]toolEntry)}
}

// Register adds a tool with its executor.
func (t *Tools) Register(desc Descriptor, exec ExecutorFunc) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required for %s", desc.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[desc.Name]; exists {
		return fmt.Errorf("tool already registered: %s", desc.Name)
	}
	t.entries[desc.Name] = toolEntry{desc: desc, exec: exec}
	t.order = append(t.order, desc.Name)
	return nil
}

// MustRegister adds a tool or panics. Intended for startup wiring.
func (t *Tools) MustRegister(desc Descriptor, exec ExecutorFunc) {
	if err := t.Register(desc, exec); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor and executor for name.
func (t *Tools) Lookup(name string) (Descriptor, ExecutorFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[name]
	return entry.desc, entry.exec, ok
}

// List returns descriptors in registration order.
func (t *Tools) List() []Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	descs := make([]Descriptor, 0, len(t.order))
	for _, name := range t.order {
		descs = append(descs, t.entries[name].desc)
	}
	return descs
}
