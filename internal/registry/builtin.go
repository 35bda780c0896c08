package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RegisterBuiltinTools installs the demo tools the broker ships with.
func RegisterBuiltinTools(t *Tools) {
	t.MustRegister(Descriptor{
		Name:        "project_list",
		Description: "List all projects",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`[{"id":"1","name":"demo-project-1","status":"active"},{"id":"2","name":"demo-project-2","status":"completed"}]`), nil
	})

	t.MustRegister(Descriptor{
		Name:        "project_create",
		Description: "Create a new project",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"}},"required":["name"]}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		out, err := json.Marshal(map[string]interface{}{
			"id":          uuid.New().String(),
			"name":        in.Name,
			"description": in.Description,
			"created":     time.Now().Format(time.RFC3339),
		})
		return out, err
	})

	t.MustRegister(Descriptor{
		Name:        "agent_spawn",
		Description: "Spawn a new agent",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"role":{"type":"string"},"task":{"type":"string"}},"required":["name","role","task"]}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in map[string]interface{}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		in["agentId"] = "agt_" + uuid.New().String()[:8]
		in["status"] = "spawned"
		return json.Marshal(in)
	})
}
