// Package dispatch executes named tools with schema validation and
// resilience policies applied around the executor.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/policy"
	"github.com/xiaot623/agentmesh/internal/registry"
	"github.com/xiaot623/agentmesh/internal/resilience"
)

// ServiceName identifies the broker in result metadata.
const ServiceName = "agentmesh"

// Config bundles resilience settings applied to every tool executor.
type Config struct {
	Breaker resilience.BreakerConfig
	Retry   resilience.RetryConfig
}

// Dispatcher looks up tools, validates arguments against the tool's input
// schema, consults policy, and invokes the executor wrapped in a per-tool
// circuit breaker and the retry policy. Every outcome is normalized to a
// domain.Result.
type Dispatcher struct {
	tools   *registry.Tools
	policy  *policy.Engine
	retryer *resilience.Retryer
	cfg     Config

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// New creates a dispatcher. The policy engine may be nil, in which case
// all calls are allowed.
func New(tools *registry.Tools, engine *policy.Engine, cfg Config) *Dispatcher {
	return &Dispatcher{
		tools:    tools,
		policy:   engine,
		retryer:  resilience.NewRetryer(cfg.Retry),
		cfg:      cfg,
		breakers: make(map[string]*resilience.Breaker),
	}
}

// List returns the descriptors of all registered tools.
func (d *Dispatcher) List() []registry.Descriptor {
	return d.tools.List()
}

// ErrUnknownTool is returned when no tool matches the requested name. The
// wire layer maps it to an invalid-params response.
var ErrUnknownTool = domain.NewServiceError(domain.CodeUnknownTool, "unknown tool", nil)

// Call invokes a tool by name. A missing tool surfaces as ErrUnknownTool;
// every other outcome, success or failure, is normalized into the Result.
func (d *Dispatcher) Call(ctx context.Context, toolName string, args json.RawMessage) (*domain.Result, error) {
	desc, exec, ok := d.tools.Lookup(toolName)
	if !ok {
		return nil, ErrUnknownTool
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	start := time.Now()
	log.Printf("executing tool %s args=%s", toolName, redactArgs(args))

	if violations := validateArgs(desc.InputSchema, args); len(violations) > 0 {
		return domain.ErrorResult(ServiceName, toolName,
			domain.CodeValidationError, "invalid input arguments", violations), nil
	}

	if decision := d.evaluatePolicy(ctx, toolName, args); decision == policy.DecisionBlock {
		return domain.ErrorResult(ServiceName, toolName,
			domain.CodePolicyBlocked, "tool call blocked by policy", nil), nil
	}

	var data json.RawMessage
	err := d.breaker(toolName).Execute(ctx, func(ctx context.Context) error {
		return d.retryer.Do(ctx, func(ctx context.Context) error {
			out, execErr := exec(ctx, args)
			if execErr != nil {
				return execErr
			}
			data = out
			return nil
		})
	})
	if err != nil {
		log.Printf("WARN: tool %s failed after %s: %v", toolName, time.Since(start), err)
		return errorResult(toolName, err), nil
	}

	log.Printf("tool %s completed in %s", toolName, time.Since(start))
	return domain.SuccessResult(ServiceName, toolName, data), nil
}

// BreakerMetrics returns the metrics of every breaker created so far.
func (d *Dispatcher) BreakerMetrics() map[string]resilience.Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics := make(map[string]resilience.Metrics, len(d.breakers))
	for name, b := range d.breakers {
		metrics[name] = b.Metrics()
	}
	return metrics
}

// ResetBreaker forces the named tool's breaker closed.
func (d *Dispatcher) ResetBreaker(toolName string) bool {
	if b := d.lookupBreaker(toolName); b != nil {
		b.Reset()
		return true
	}
	return false
}

// TripBreaker forces the named tool's breaker open.
func (d *Dispatcher) TripBreaker(toolName string) bool {
	if _, _, ok := d.tools.Lookup(toolName); !ok {
		return false
	}
	d.breaker(toolName).ForceTrip()
	return true
}

func (d *Dispatcher) lookupBreaker(toolName string) *resilience.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakers[toolName]
}

func (d *Dispatcher) breaker(toolName string) *resilience.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.breakers[toolName]
	if !ok {
		b = resilience.NewBreaker(toolName, d.cfg.Breaker)
		d.breakers[toolName] = b
	}
	return b
}

func (d *Dispatcher) evaluatePolicy(ctx context.Context, toolName string, args json.RawMessage) string {
	if d.policy == nil {
		return policy.DecisionAllow
	}

	var decoded interface{}
	_ = json.Unmarshal(args, &decoded)
	decision, err := d.policy.Evaluate(ctx, map[string]interface{}{
		"tool_name": toolName,
		"args":      decoded,
	})
	if err != nil {
		log.Printf("WARN: policy evaluation failed for %s: %v", toolName, err)
		return policy.DecisionBlock
	}
	return decision
}

// validateArgs checks args against the tool's JSON schema and returns all
// violations, not just the first.
func validateArgs(schema, args json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}
	return violations
}

func errorResult(toolName string, err error) *domain.Result {
	if se, ok := domain.AsServiceError(err); ok {
		code := se.Code
		if code == domain.CodeCircuitOpen {
			code = domain.CodeServiceUnavailable
		}
		return domain.ErrorResult(ServiceName, toolName, code, se.Message, se.Details)
	}
	return domain.ErrorResult(ServiceName, toolName, domain.CodeUnknownError, err.Error(), nil)
}

var sensitiveField = regexp.MustCompile(`(?i)(password|token|secret|key|auth)`)

// redactArgs replaces values of sensitive top-level fields before logging.
func redactArgs(args json.RawMessage) string {
	var decoded map[string]interface{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return "<non-object>"
	}
	for field := range decoded {
		if sensitiveField.MatchString(field) {
			decoded[field] = "[REDACTED]"
		}
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return "<unloggable>"
	}
	return string(out)
}
