package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/xiaot623/agentmesh/internal/chaos"
	"github.com/xiaot623/agentmesh/internal/config"
	"github.com/xiaot623/agentmesh/internal/dispatch"
	"github.com/xiaot623/agentmesh/internal/domain"
	"github.com/xiaot623/agentmesh/internal/registry"
	"github.com/xiaot623/agentmesh/internal/resilience"
	"github.com/xiaot623/agentmesh/internal/router"
	"github.com/xiaot623/agentmesh/internal/service"
	"github.com/xiaot623/agentmesh/tests/helpers"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()

	agents := registry.NewAgents()
	tools := registry.NewTools()
	registry.RegisterBuiltinTools(tools)

	dispatcher := dispatch.New(tools, nil, dispatch.Config{
		Breaker: resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute},
		Retry:   resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})

	store := helpers.NewTestHistoryStore(t)
	cfg := &config.Config{}
	return service.New(agents, tools, router.New(agents), dispatcher, store, chaos.NewInjector(), cfg)
}

func startTestServer(t *testing.T, svc *service.Service) string {
	t.Helper()

	srv := NewServer(NewHandler(svc))
	go func() {
		if err := srv.Start("127.0.0.1:0"); err != nil {
			t.Errorf("server start failed: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv.Addr().String()
}

type testClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &testClient{t: t, conn: conn, scanner: scanner}
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) send(id interface{}, method string, params interface{}) {
	c.t.Helper()

	req := map[string]interface{}{"jsonrpc": "2.0", "method": method}
	if id != nil {
		req["id"] = id
	}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		c.t.Fatalf("marshal failed: %v", err)
	}
	c.sendRaw(string(data))
}

func (c *testClient) readResponse() *domain.Response {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !c.scanner.Scan() {
		c.t.Fatalf("no response: %v", c.scanner.Err())
	}

	var resp domain.Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		c.t.Fatalf("bad response %q: %v", c.scanner.Text(), err)
	}
	return &resp
}

// readFor reads responses until one matches the given id. Completion order
// may differ from submission order, correlation is by id only.
func (c *testClient) readFor(id interface{}) *domain.Response {
	c.t.Helper()

	want, _ := json.Marshal(id)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := c.readResponse()
		if string(resp.ID) == string(want) {
			return resp
		}
	}
	c.t.Fatalf("no response for id %v", id)
	return nil
}

func (c *testClient) call(id interface{}, method string, params interface{}) *domain.Response {
	c.t.Helper()
	c.send(id, method, params)
	return c.readFor(id)
}

func resultMap(t *testing.T, resp *domain.Response) map[string]interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not an object: %T", resp.Result)
	}
	return m
}

func TestInitializeAndPing(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	init := resultMap(t, c.call(1, "initialize", map[string]interface{}{}))
	if init["protocolVersion"] != service.ProtocolVersion {
		t.Fatalf("unexpected protocolVersion: %v", init["protocolVersion"])
	}
	caps, _ := init["capabilities"].(map[string]interface{})
	if caps["tools"] != true || caps["agents"] != true {
		t.Fatalf("unexpected capabilities: %v", init["capabilities"])
	}

	pong := resultMap(t, c.call(2, "ping", map[string]interface{}{}))
	if pong["pong"] != true {
		t.Fatalf("expected pong, got %v", pong)
	}
	if pong["timestamp"] == nil {
		t.Fatal("expected timestamp in pong")
	}
}

func TestUnknownMethod(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	resp := c.call(1, "nonexistent", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected error response")
	}
	if resp.Error.Code != domain.CodeMethodNotFound {
		t.Fatalf("expected -32601, got %d", resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "Method not found") {
		t.Fatalf("unexpected message: %s", resp.Error.Message)
	}
}

func TestToolsListAndCall(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	list := resultMap(t, c.call(1, "tools/list", map[string]interface{}{}))
	tools, _ := list["tools"].([]interface{})
	if len(tools) == 0 {
		t.Fatal("expected tools")
	}
	names := make(map[string]bool)
	for _, raw := range tools {
		tool := raw.(map[string]interface{})
		names[tool["name"].(string)] = true
	}
	for _, want := range []string{"project_list", "project_create", "agent_spawn"} {
		if !names[want] {
			t.Fatalf("missing tool %s in %v", want, names)
		}
	}

	call := resultMap(t, c.call(2, "tools/call", map[string]interface{}{
		"toolName":  "project_create",
		"arguments": map[string]interface{}{"name": "demo", "description": "integration test"},
	}))
	content, _ := call["content"].([]interface{})
	if len(content) != 1 {
		t.Fatalf("expected single content item, got %v", call)
	}
	item := content[0].(map[string]interface{})
	if item["type"] != "text" {
		t.Fatalf("expected text content, got %v", item)
	}

	var result domain.Result
	if err := json.Unmarshal([]byte(item["text"].(string)), &result); err != nil {
		t.Fatalf("content text is not a Result: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	resp := c.call(1, "tools/call", map[string]interface{}{"toolName": "nope"})
	if resp.Error == nil || resp.Error.Code != domain.CodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}

func TestToolsCallValidationFailure(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	// project_create requires name; the call yields a Result with a
	// validation error, not a protocol error.
	call := resultMap(t, c.call(1, "tools/call", map[string]interface{}{
		"toolName":  "project_create",
		"arguments": map[string]interface{}{"description": "missing the name"},
	}))
	content := call["content"].([]interface{})
	item := content[0].(map[string]interface{})

	var result domain.Result
	if err := json.Unmarshal([]byte(item["text"].(string)), &result); err != nil {
		t.Fatalf("content text is not a Result: %v", err)
	}
	if result.Success || result.Error == nil || result.Error.Code != domain.CodeValidationError {
		t.Fatalf("expected validation error, got %+v", result)
	}
}

func TestAgentRegisterAndMessage(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	reg1 := resultMap(t, c.call(1, "agent/register", map[string]interface{}{
		"name": "coordinator", "role": "coordinator", "capabilities": []string{"plan"},
	}))
	reg2 := resultMap(t, c.call(2, "agent/register", map[string]interface{}{
		"name": "worker", "role": "worker",
	}))
	if reg1["status"] != "registered" || reg2["status"] != "registered" {
		t.Fatalf("unexpected registration results: %v %v", reg1, reg2)
	}

	from := reg1["agentId"].(string)
	to := reg2["agentId"].(string)

	msg := resultMap(t, c.call(3, "agent/message", map[string]interface{}{
		"from": from, "to": to, "content": map[string]interface{}{"task": "review"},
	}))
	if msg["status"] != "delivered" {
		t.Fatalf("expected delivered, got %v", msg)
	}
	if msg["timestamp"] == nil {
		t.Fatal("expected timestamp on receipt")
	}
}

func TestAgentMessageUnregisteredSender(t *testing.T) {
	svc := newTestService(t)

	events := 0
	svc.Router().Subscribe(func(msg domain.Message) { events++ })

	addr := startTestServer(t, svc)
	c := dial(t, addr)

	resp := c.call(1, "agent/message", map[string]interface{}{
		"from": "ghost", "content": map[string]interface{}{},
	})
	if resp.Error == nil || resp.Error.Code != domain.CodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "not registered") {
		t.Fatalf("expected 'not registered' in message, got %q", resp.Error.Message)
	}
	if events != 0 {
		t.Fatal("rejected message must not emit a delivery event")
	}
}

func TestBroadcastFanOut(t *testing.T) {
	svc := newTestService(t)

	var broadcasts []domain.Message
	svc.Router().Subscribe(func(msg domain.Message) { broadcasts = append(broadcasts, msg) })

	addr := startTestServer(t, svc)
	c := dial(t, addr)

	var ids []string
	for i := 0; i < 3; i++ {
		reg := resultMap(t, c.call(i, "agent/register", map[string]interface{}{
			"name": fmt.Sprintf("agent-%d", i), "role": "worker",
		}))
		ids = append(ids, reg["agentId"].(string))
	}

	msg := resultMap(t, c.call(10, "agent/message", map[string]interface{}{
		"from": ids[0], "content": map[string]interface{}{"announce": true},
	}))
	if msg["status"] != "delivered" {
		t.Fatalf("expected delivered, got %v", msg)
	}

	if len(broadcasts) != 1 {
		t.Fatalf("expected exactly 1 broadcast event, got %d", len(broadcasts))
	}
	if broadcasts[0].From != ids[0] || !broadcasts[0].Broadcast() {
		t.Fatalf("unexpected broadcast event: %+v", broadcasts[0])
	}
}

func TestAutoIDsUniqueForDuplicateNames(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		reg := resultMap(t, c.call(i, "agent/register", map[string]interface{}{
			"name": "same-name", "role": "worker",
		}))
		id := reg["agentId"].(string)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestReRegistrationKeepsID(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	reg1 := resultMap(t, c.call(1, "agent/register", map[string]interface{}{
		"agentId": "agt_recover", "name": "before", "role": "worker",
	}))
	reg2 := resultMap(t, c.call(2, "agent/register", map[string]interface{}{
		"agentId": "agt_recover", "name": "after", "role": "coordinator",
	}))
	if reg1["agentId"] != "agt_recover" || reg2["agentId"] != "agt_recover" {
		t.Fatalf("expected stable id, got %v and %v", reg1["agentId"], reg2["agentId"])
	}
}

func TestDeregisterExtension(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	resultMap(t, c.call(1, "agent/register", map[string]interface{}{
		"agentId": "agt_tmp", "name": "demo", "role": "worker",
	}))
	dereg := resultMap(t, c.call(2, "agent/deregister", map[string]interface{}{"agentId": "agt_tmp"}))
	if dereg["status"] != "deregistered" {
		t.Fatalf("expected deregistered, got %v", dereg)
	}

	resp := c.call(3, "agent/deregister", map[string]interface{}{"agentId": "agt_tmp"})
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "not registered") {
		t.Fatalf("expected not-registered error, got %+v", resp.Error)
	}
}

func TestOrderPreservation(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	const n = 20
	for i := 0; i < n; i++ {
		c.send(i, "ping", map[string]interface{}{})
	}

	// Completion order may differ; buffer responses and match by id.
	got := make(map[string]bool)
	for i := 0; i < n; i++ {
		resp := c.readResponse()
		if resp.Error != nil {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}
		got[string(resp.ID)] = true
	}
	for i := 0; i < n; i++ {
		if !got[fmt.Sprintf("%d", i)] {
			t.Fatalf("missing response for id %d", i)
		}
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	c.send(nil, "ping", map[string]interface{}{})
	resp := c.call(1, "ping", map[string]interface{}{})
	if string(resp.ID) != "1" {
		t.Fatalf("expected response for id 1 only, got id %s", resp.ID)
	}
}

func TestResilienceUnderInducedFailure(t *testing.T) {
	svc := newTestService(t)
	svc.Injector().SetFailureRate(0.5)

	addr := startTestServer(t, svc)
	c := dial(t, addr)

	successes, failures := 0, 0
	for i := 0; i < 10; i++ {
		resp := c.call(i, "ping", map[string]interface{}{})
		if resp.Error != nil {
			if resp.Error.Code != domain.CodeInternalError {
				t.Fatalf("expected -32603 for injected failure, got %+v", resp.Error)
			}
			failures++
		} else {
			successes++
		}
	}

	if successes+failures != 10 {
		t.Fatalf("expected 10 outcomes, got %d", successes+failures)
	}
	if successes == 0 || failures == 0 {
		t.Fatalf("expected mixed outcomes at rate 0.5, got %d successes, %d failures", successes, failures)
	}
}

func TestMalformedLineDoesNotKillConnection(t *testing.T) {
	addr := startTestServer(t, newTestService(t))
	c := dial(t, addr)

	c.sendRaw(`{"jsonrpc":"2.0","id":1,`)
	resp := c.readResponse()
	if resp.Error == nil || resp.Error.Code != domain.CodeParseError {
		t.Fatalf("expected -32700, got %+v", resp)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("parse errors carry a null id, got %s", resp.ID)
	}

	// The same connection keeps working.
	pong := resultMap(t, c.call(2, "ping", map[string]interface{}{}))
	if pong["pong"] != true {
		t.Fatalf("expected pong after malformed line, got %v", pong)
	}
}

func TestTruncatedWriteThenFreshConnection(t *testing.T) {
	addr := startTestServer(t, newTestService(t))

	// Write a truncated envelope and destroy the connection mid-line.
	broken := dial(t, addr)
	if _, err := broken.conn.Write([]byte(`{"jsonrpc":"2.0","id":1,`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = broken.conn.Close()

	// A fresh connection succeeds immediately afterwards.
	fresh := dial(t, addr)
	pong := resultMap(t, fresh.call(1, "ping", map[string]interface{}{}))
	if pong["pong"] != true {
		t.Fatalf("expected pong on fresh connection, got %v", pong)
	}
}
