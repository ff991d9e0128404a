package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"debugbridge/internal/apperr"

	"github.com/expr-lang/expr/vm"
)

const (
	MaxPipelineSteps   = 50
	MaxStepTimeout     = 10 * time.Minute
	DefaultStepTimeout = 300 * time.Second
)

var (
	ErrPipelineTooComplex = errors.New("pipeline too complex")
	ErrStepTimeoutTooLong = errors.New("step timeout too long")
	ErrToolNotAllowed     = errors.New("tool not allowed")
)

type ToolPipeline struct {
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Steps             []PipelineStep `json:"steps"`
	ParallelExecution bool           `json:"parallel_execution"`
	FailFast          bool           `json:"fail_fast"`
	CreatedAt         time.Time      `json:"created_at"`
}

// PipelineStep is one tool invocation in a pipeline. A nil DependsOn means
// the step depends on the step before it; an empty, non-nil DependsOn means
// it depends on nothing.
type PipelineStep struct {
	Name        string         `json:"name"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Condition   string         `json:"condition,omitempty"`
	RetryConfig *RetryConfig   `json:"retry_config,omitempty"`
	Timeout     *Duration      `json:"timeout,omitempty"`
	DependsOn   []string       `json:"depends_on"`
}

func (s PipelineStep) timeout() time.Duration {
	if s.Timeout == nil || *s.Timeout <= 0 {
		return DefaultStepTimeout
	}
	return s.Timeout.Std()
}

func (s PipelineStep) retry() RetryConfig {
	if s.RetryConfig == nil {
		return singleAttempt()
	}
	return *s.RetryConfig
}

// Clone returns a copy a caller can modify, nested arguments included,
// without affecting p.
func (p *ToolPipeline) Clone() *ToolPipeline {
	out := *p
	out.Steps = make([]PipelineStep, len(p.Steps))
	for i, s := range p.Steps {
		c := s
		if s.Arguments != nil {
			c.Arguments = copyArguments(s.Arguments)
		}
		if s.DependsOn != nil {
			c.DependsOn = append([]string{}, s.DependsOn...)
		}
		if s.RetryConfig != nil {
			rc := *s.RetryConfig
			c.RetryConfig = &rc
		}
		if s.Timeout != nil {
			t := *s.Timeout
			c.Timeout = &t
		}
		out.Steps[i] = c
	}
	return &out
}

func copyArguments(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the containers decoded arguments are built from. Other
// values are treated as immutable.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyArguments(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, e := range val {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

// plan is a validated pipeline ready to run.
type plan struct {
	pipeline   *ToolPipeline
	steps      map[string]PipelineStep
	graph      *DependencyGraph
	names      []string
	conditions map[string]*vm.Program
}

func (pl *plan) order() ([]string, error) {
	return pl.graph.ExecutionOrder(pl.names)
}

func (pl *plan) levels() ([][]string, error) {
	return pl.graph.Levels(pl.names)
}

// validatePipeline checks p before anything runs. The step count, step
// timeouts and tool allowlist are checked first, in that order, then the
// structural rules.
func validatePipeline(p *ToolPipeline, allowed map[string]bool) (*plan, error) {
	if p == nil {
		return nil, apperr.Validation("pipeline", "pipeline is required")
	}
	subject := p.Name
	if subject == "" {
		subject = "pipeline"
	}
	if len(p.Steps) > MaxPipelineSteps {
		return nil, apperr.Validation(subject, "too complex: %d steps exceeds the limit of %d",
			len(p.Steps), MaxPipelineSteps).Wrap(ErrPipelineTooComplex)
	}
	if len(p.Steps) == 0 {
		return nil, apperr.Validation(subject, "pipeline has no steps")
	}
	for _, s := range p.Steps {
		if s.Timeout != nil && s.Timeout.Std() > MaxStepTimeout {
			return nil, apperr.Validation(s.Name, "step %q timeout %s exceeds %s",
				s.Name, s.Timeout.Std(), MaxStepTimeout).Wrap(ErrStepTimeoutTooLong)
		}
	}
	for _, s := range p.Steps {
		if !allowed[s.Tool] {
			return nil, apperr.Validation(s.Name, "step %q uses tool %q which is not allowed",
				s.Name, s.Tool).Wrap(ErrToolNotAllowed)
		}
	}

	pl := &plan{
		pipeline:   p,
		steps:      make(map[string]PipelineStep, len(p.Steps)),
		graph:      NewDependencyGraph(),
		names:      make([]string, 0, len(p.Steps)),
		conditions: make(map[string]*vm.Program),
	}
	for _, s := range p.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return nil, apperr.Validation(subject, "step with tool %q has no name", s.Tool)
		}
		if _, dup := pl.steps[s.Name]; dup {
			return nil, apperr.Validation(s.Name, "duplicate step name %q", s.Name)
		}
		if s.Timeout != nil && *s.Timeout < 0 {
			return nil, apperr.Validation(s.Name, "step %q timeout cannot be negative", s.Name)
		}
		if s.RetryConfig != nil {
			if err := s.RetryConfig.Validate(); err != nil {
				return nil, apperr.Validation(s.Name, "step %q retry_config: %v", s.Name, err)
			}
		}
		if s.Condition != "" {
			program, err := compileCondition(s.Condition)
			if err != nil {
				return nil, apperr.Validation(s.Name, "step %q condition does not compile", s.Name).Wrap(err)
			}
			pl.conditions[s.Name] = program
		}
		pl.steps[s.Name] = s
		pl.names = append(pl.names, s.Name)
	}

	for i, s := range p.Steps {
		deps := s.DependsOn
		if deps == nil && i > 0 {
			deps = []string{p.Steps[i-1].Name}
		}
		for _, dep := range deps {
			if _, ok := pl.steps[dep]; !ok {
				return nil, apperr.Validation(s.Name, "step %q depends on unknown step %q", s.Name, dep)
			}
			pl.graph.AddDependency(s.Name, dep)
		}
	}
	if _, err := pl.order(); err != nil {
		return nil, err
	}
	return pl, nil
}

func describeSteps(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", len(names), strings.Join(names, ", "))
}
