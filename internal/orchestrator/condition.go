package orchestrator

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Step conditions are expr expressions evaluated against the run so far:
//
//	results.observe.success && vars.mode == "deep"
//	failed("observe") || !has("experiment")
func conditionEnv(tc *ToolContext) map[string]any {
	var results map[string]ToolResult
	var vars map[string]any
	if tc != nil {
		results = tc.Results()
		vars = tc.Variables()
	}
	view := make(map[string]any, len(results))
	for name, r := range results {
		view[name] = map[string]any{
			"success":           r.Success,
			"output":            r.Output,
			"error":             r.Error,
			"tool":              r.ToolName,
			"execution_time_ms": r.ExecutionTime.Std().Milliseconds(),
		}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"results": view,
		"vars":    vars,
		"succeeded": func(name string) bool {
			r, ok := results[name]
			return ok && r.Success
		},
		"failed": func(name string) bool {
			r, ok := results[name]
			return ok && !r.Success
		},
		"has": func(name string) bool {
			_, ok := results[name]
			return ok
		},
	}
}

func compileCondition(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(conditionEnv(nil)), expr.AsBool())
}

func evalCondition(program *vm.Program, tc *ToolContext) (bool, error) {
	out, err := expr.Run(program, conditionEnv(tc))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
