// Package service composes the registries, router, dispatcher, history
// store, and failure injector behind one facade driven by every protocol
// frontend.
package service

import (
	"github.com/xiaot623/agentmesh/internal/chaos"
	"github.com/xiaot623/agentmesh/internal/config"
	"github.com/xiaot623/agentmesh/internal/dispatch"
	"github.com/xiaot623/agentmesh/internal/history"
	"github.com/xiaot623/agentmesh/internal/registry"
	"github.com/xiaot623/agentmesh/internal/router"
)

// ServerName and ServerVersion identify the broker in initialize results.
const (
	ServerName      = "agentmesh"
	ServerVersion   = "0.1.0"
	ProtocolVersion = "1.0"
)

type Service struct {
	agents     *registry.Agents
	tools      *registry.Tools
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	history    history.Store
	injector   *chaos.Injector
	config     *config.Config
}

func New(agents *registry.Agents, tools *registry.Tools, r *router.Router, d *dispatch.Dispatcher, h history.Store, inj *chaos.Injector, cfg *config.Config) *Service {
	return &Service{
		agents:     agents,
		tools:      tools,
		router:     r,
		dispatcher: d,
		history:    h,
		injector:   inj,
		config:     cfg,
	}
}

// Agents exposes the agent registry for observers in tests.
func (s *Service) Agents() *registry.Agents { return s.agents }

// Router exposes the message router for observers in tests.
func (s *Service) Router() *router.Router { return s.router }

// Injector exposes the failure-injection knobs.
func (s *Service) Injector() *chaos.Injector { return s.injector }

// Dispatcher exposes the tool dispatcher for breaker control.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// History exposes the audit store.
func (s *Service) History() history.Store { return s.history }
