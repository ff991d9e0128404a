package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/cache"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/protocol"
)

type fakeClient struct {
	mu      sync.Mutex
	simple  []protocol.Request
	batched []protocol.Request
	reply   func(req protocol.Request) (*protocol.Response, error)
}

func (f *fakeClient) answer(req protocol.Request) (*protocol.Response, error) {
	if f.reply != nil {
		return f.reply(req)
	}
	resp, err := protocol.Success(req.ID, protocol.ResultSuccess, map[string]any{"ok": true})
	return &resp, err
}

func (f *fakeClient) SendRequest(_ context.Context, req protocol.Request) (*protocol.Response, error) {
	f.mu.Lock()
	f.simple = append(f.simple, req)
	f.mu.Unlock()
	return f.answer(req)
}

func (f *fakeClient) SendBatchedRequest(_ context.Context, req protocol.Request) (*protocol.Response, error) {
	f.mu.Lock()
	f.batched = append(f.batched, req)
	f.mu.Unlock()
	return f.answer(req)
}

func params(t *testing.T, req protocol.Request) map[string]any {
	t.Helper()
	if len(req.Params) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(req.Params, &out); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	return out
}

func mustTool(t *testing.T, name string) Tool {
	t.Helper()
	tool, ok := Lookup(name)
	if !ok {
		t.Fatalf("tool %q not found", name)
	}
	return tool
}

func TestToolRequests(t *testing.T) {
	cases := []struct {
		tool   string
		args   map[string]any
		method string
		params map[string]any
	}{
		{"observe", map[string]any{"entity": 42.0, "components": []any{"Transform"}}, protocol.MethodGet,
			map[string]any{"entity": 42.0, "components": []any{"Transform"}}},
		{"observe", map[string]any{"list": true, "with": "Player, Health"}, protocol.MethodListEntities,
			map[string]any{"filter": map[string]any{"with": []any{"Player", "Health"}}}},
		{"observe", map[string]any{"types": true}, protocol.MethodListComponents, nil},
		{"observe", map[string]any{"with": []any{"Transform"}, "without": []any{"Camera"}, "limit": 5.0}, protocol.MethodQuery,
			map[string]any{"filter": map[string]any{"with": []any{"Transform"}, "without": []any{"Camera"}}, "limit": 5.0}},
		{"observe", nil, protocol.MethodQuery, map[string]any{}},
		{"experiment", map[string]any{"action": "spawn", "components": map[string]any{"Name": "probe"}}, protocol.MethodSpawn,
			map[string]any{"components": map[string]any{"Name": "probe"}}},
		{"experiment", map[string]any{"action": "set", "entity": "7", "components": map[string]any{"Health": 10.0}}, protocol.MethodSet,
			map[string]any{"entity": 7.0, "components": map[string]any{"Health": 10.0}}},
		{"experiment", map[string]any{"action": "DESTROY", "entity": 3}, protocol.MethodDestroy,
			map[string]any{"entity": 3.0}},
		{"hypothesis", map[string]any{"hypothesis": "gravity is off"}, protocol.MethodDebugCommand,
			map[string]any{"command": "hypothesis", "args": map[string]any{"hypothesis": "gravity is off"}}},
		{"replay", map[string]any{"checkpoint": "latest"}, protocol.MethodDebugCommand,
			map[string]any{"command": "replay", "args": map[string]any{"checkpoint": "latest"}}},
		{"screenshot", map[string]any{"path": "/tmp/a.png", "capture_delay": 100.0, "wait_for_render": true}, protocol.MethodScreenshot,
			map[string]any{"path": "/tmp/a.png", "capture_delay": 100.0, "wait_for_render": true}},
	}
	for _, tc := range cases {
		req, err := mustTool(t, tc.tool).Request(tc.args)
		if err != nil {
			t.Fatalf("%s %v: %v", tc.tool, tc.args, err)
		}
		if req.Method != tc.method {
			t.Fatalf("%s %v: method %s, want %s", tc.tool, tc.args, req.Method, tc.method)
		}
		if got := params(t, req); !reflect.DeepEqual(got, tc.params) {
			t.Fatalf("%s %v: params %v, want %v", tc.tool, tc.args, got, tc.params)
		}
	}
}

func TestToolArgumentErrors(t *testing.T) {
	cases := []struct {
		tool string
		args map[string]any
	}{
		{"observe", map[string]any{"entity": -1.0}},
		{"observe", map[string]any{"entity": 0.0}},
		{"observe", map[string]any{"entity": 1.5}},
		{"observe", map[string]any{"limit": "ten"}},
		{"observe", map[string]any{"with": []any{"Bad Name"}}},
		{"observe", map[string]any{"list": "yes"}},
		{"experiment", map[string]any{}},
		{"experiment", map[string]any{"action": "teleport"}},
		{"experiment", map[string]any{"action": "set", "entity": 1.0}},
		{"experiment", map[string]any{"action": "spawn", "components": []any{"Name"}}},
		{"hypothesis", map[string]any{"confidence": 0.5}},
		{"screenshot", map[string]any{"warmup_duration": -5.0}},
	}
	for _, tc := range cases {
		_, err := mustTool(t, tc.tool).Request(tc.args)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s %v: expected validation error, got %v", tc.tool, tc.args, err)
		}
	}
}

func TestExecuteUsesBatchedPathForLoadTools(t *testing.T) {
	client := &fakeClient{}
	for _, name := range []string{"stress", "anomaly", "observe"} {
		if _, err := mustTool(t, name).Execute(context.Background(), map[string]any{"count": 10.0}, client, nil); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if len(client.batched) != 2 || len(client.simple) != 1 {
		t.Fatalf("expected 2 batched and 1 simple request, got %d/%d", len(client.batched), len(client.simple))
	}
	if p := params(t, client.batched[0]); p["command"] != "stress" {
		t.Fatalf("unexpected stress params %v", p)
	}
}

func TestExecuteShapesOutput(t *testing.T) {
	client := &fakeClient{reply: func(req protocol.Request) (*protocol.Response, error) {
		resp, err := protocol.Success(req.ID, protocol.ResultEntities, []protocol.EntityData{
			{ID: 1, Components: map[string]json.RawMessage{"Name": json.RawMessage(`"player"`)}},
		})
		return &resp, err
	}}
	out, err := mustTool(t, "observe").Execute(context.Background(), nil, client, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := map[string]any{
		"type": "entities",
		"data": []any{map[string]any{"id": 1.0, "components": map[string]any{"Name": "player"}}},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestExecuteReturnsRemoteError(t *testing.T) {
	client := &fakeClient{reply: func(req protocol.Request) (*protocol.Response, error) {
		resp := protocol.Failure(req.ID, protocol.CodeEntityNotFound, "entity 9 not found")
		return &resp, nil
	}}
	_, err := mustTool(t, "observe").Execute(context.Background(), map[string]any{"entity": 9.0}, client, nil)
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Code != protocol.CodeEntityNotFound {
		t.Fatalf("expected remote error, got %v", err)
	}

	transport := apperr.Timeout("no answer")
	client.reply = func(protocol.Request) (*protocol.Response, error) { return nil, transport }
	if _, err := mustTool(t, "observe").Execute(context.Background(), nil, client, nil); !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected transport error to pass through, got %v", err)
	}
	if _, err := mustTool(t, "observe").Execute(context.Background(), nil, nil, nil); !errors.Is(err, apperr.ErrConnection) {
		t.Fatalf("expected connection error without a client, got %v", err)
	}
}

func TestRegisterInstallsEveryTool(t *testing.T) {
	o := orchestrator.New(orchestrator.Options{Client: &fakeClient{}})
	Register(o)
	o.RegisterBuiltinTemplates()

	names := o.ToolNames()
	want := []string{"anomaly", "experiment", "hypothesis", "observe", "replay", "screenshot", "stress"}
	sort.Strings(want)
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected tools %v", names)
	}

	for _, info := range o.Templates() {
		p, err := o.Template(info.Name)
		if err != nil {
			t.Fatalf("template %s: %v", info.Name, err)
		}
		res, err := o.ExecutePipeline(context.Background(), p, nil)
		if err != nil {
			t.Fatalf("template %s failed: %v", info.Name, err)
		}
		if len(res.Executed) != len(p.Steps) {
			t.Fatalf("template %s ran %v", info.Name, res.Executed)
		}
	}
}

func TestRepeatedSpawnsReachTheRemote(t *testing.T) {
	client := &fakeClient{}
	o := orchestrator.New(orchestrator.Options{Client: client, Cache: cache.NewMemory(), CacheTTL: time.Minute})
	Register(o)

	args := map[string]any{"action": "spawn"}
	for _, shared := range []bool{false, true} {
		cfg := orchestrator.DefaultToolContextConfig()
		cfg.SharedCache = shared
		if _, err := o.ExecuteTool(context.Background(), "experiment", args, orchestrator.NewToolContext(cfg)); err != nil {
			t.Fatalf("spawn (shared=%v): %v", shared, err)
		}
	}
	client.mu.Lock()
	sent := len(client.simple)
	client.mu.Unlock()
	if sent != 2 {
		t.Fatalf("expected two spawn requests, remote saw %d", sent)
	}
}

func TestMutatingFlags(t *testing.T) {
	want := map[string]bool{
		"observe": false, "anomaly": false,
		"experiment": true, "hypothesis": true, "replay": true, "stress": true, "screenshot": true,
	}
	for _, tool := range All() {
		if tool.Mutates() != want[tool.Name] {
			t.Fatalf("%s: Mutates() = %v", tool.Name, tool.Mutates())
		}
	}
}
