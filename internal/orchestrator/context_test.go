package orchestrator

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestExecutionIDsAreUniqueUnderConcurrency(t *testing.T) {
	const workers, perWorker = 8, 250
	ids := make(chan ExecutionID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- NewExecutionID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[ExecutionID]bool, workers*perWorker)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate execution id %s", id)
		}
		seen[id] = true
	}
}

func TestCacheKeyIgnoresMapOrder(t *testing.T) {
	a := CacheKey("observe", map[string]any{"with": []any{"Transform"}, "limit": 5})
	b := CacheKey("observe", map[string]any{"limit": 5, "with": []any{"Transform"}})
	if a != b {
		t.Fatalf("equal arguments hashed differently")
	}
	if a == CacheKey("experiment", map[string]any{"limit": 5, "with": []any{"Transform"}}) {
		t.Fatalf("tool name must be part of the key")
	}
	if a == CacheKey("observe", map[string]any{"limit": 6, "with": []any{"Transform"}}) {
		t.Fatalf("arguments must be part of the key")
	}
}

func TestToolContextSummary(t *testing.T) {
	tc := NewToolContext(DefaultToolContextConfig())
	tc.AddResult("observe", ToolResult{ToolName: "observe", Success: true, Output: map[string]any{"secret": 1}})
	tc.AddResult("experiment", ToolResult{ToolName: "experiment", Success: false, Error: "boom"})
	tc.AddResult("observe", ToolResult{ToolName: "observe", Success: true})
	tc.SetVariable("mode", "deep")
	tc.SetVariable("iterations", 3)

	s := tc.Summary()
	if s.ExecutionID != tc.ExecutionID || s.ExecutionCount != 3 {
		t.Fatalf("unexpected summary header %+v", s)
	}
	if !reflect.DeepEqual(s.Results, []string{"experiment", "observe"}) {
		t.Fatalf("unexpected results %v", s.Results)
	}
	if !reflect.DeepEqual(s.Failed, []string{"experiment"}) {
		t.Fatalf("unexpected failed %v", s.Failed)
	}
	if !reflect.DeepEqual(s.Variables, []string{"iterations", "mode"}) {
		t.Fatalf("unexpected variables %v", s.Variables)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if _, leaked := decoded["output"]; leaked {
		t.Fatalf("summary must not include tool output: %s", raw)
	}
}

func TestToolContextConfigDefaults(t *testing.T) {
	var cfg ToolContextConfig
	if err := json.Unmarshal([]byte(`{"cache_results":false,"max_execution_time":"2s"}`), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.AutoRecord || cfg.CacheResults || cfg.MaxExecutionTime.Std() != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConditionsSeeResultsAndVariables(t *testing.T) {
	tc := NewToolContext(DefaultToolContextConfig())
	tc.AddResult("observe", ToolResult{ToolName: "observe", Success: true})
	tc.AddResult("stress", ToolResult{ToolName: "stress", Success: false, Error: "timeout"})
	tc.SetVariable("mode", "deep")

	cases := []struct {
		src  string
		want bool
	}{
		{`succeeded("observe")`, true},
		{`failed("observe")`, false},
		{`failed("stress")`, true},
		{`has("replay")`, false},
		{`results.observe.success && vars.mode == "deep"`, true},
		{`results.stress.error == "timeout"`, true},
		{`!succeeded("replay")`, true},
	}
	for _, c := range cases {
		program, err := compileCondition(c.src)
		if err != nil {
			t.Fatalf("compile %q: %v", c.src, err)
		}
		got, err := evalCondition(program, tc)
		if err != nil {
			t.Fatalf("eval %q: %v", c.src, err)
		}
		if got != c.want {
			t.Fatalf("%q = %v, want %v", c.src, got, c.want)
		}
	}

	if _, err := compileCondition(`succeeded(`); err == nil {
		t.Fatalf("expected a compile error")
	}
	if _, err := compileCondition(`"not a bool"`); err == nil {
		t.Fatalf("expected non-boolean conditions to be rejected")
	}
}
