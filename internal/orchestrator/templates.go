package orchestrator

import (
	"sort"
	"sync"
	"time"

	"debugbridge/internal/apperr"
)

const (
	TemplateObserveExperimentReplay = "observe_experiment_replay"
	TemplateDebugPerformance        = "debug_performance"
)

type TemplateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       int    `json:"steps"`
}

type templateSet struct {
	mu        sync.RWMutex
	pipelines map[string]*ToolPipeline
}

func newTemplateSet() *templateSet {
	return &templateSet{pipelines: make(map[string]*ToolPipeline)}
}

func (s *templateSet) register(p *ToolPipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.Name] = p.Clone()
}

func (s *templateSet) get(name string) (*ToolPipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[name]
	if !ok {
		return nil, apperr.Validation(name, "unknown pipeline template %q", name)
	}
	return p.Clone(), nil
}

func (s *templateSet) list() []TemplateInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TemplateInfo, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, TemplateInfo{Name: p.Name, Description: p.Description, Steps: len(p.Steps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuiltinTemplates returns the stock debugging pipelines.
func BuiltinTemplates() []*ToolPipeline {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := DefaultRetryConfig()
	return []*ToolPipeline{
		{
			Name:        TemplateObserveExperimentReplay,
			Description: "Observe the current state, run an experiment, then replay to verify",
			FailFast:    true,
			CreatedAt:   created,
			Steps: []PipelineStep{
				{
					Name:        "observe",
					Tool:        "observe",
					Arguments:   map[string]any{"with": []any{"Transform"}},
					RetryConfig: &exp,
				},
				{
					Name:      "experiment",
					Tool:      "experiment",
					Arguments: map[string]any{"action": "spawn", "components": map[string]any{}},
					Condition: `succeeded("observe")`,
				},
				{
					Name:      "replay",
					Tool:      "replay",
					Arguments: map[string]any{"checkpoint": "latest"},
					Condition: `succeeded("experiment")`,
				},
			},
		},
		{
			Name:        TemplateDebugPerformance,
			Description: "Stress the system, then look for anomalies in the result",
			CreatedAt:   created,
			Steps: []PipelineStep{
				{
					Name:      "stress",
					Tool:      "stress",
					Arguments: map[string]any{"type": "entity_spawn", "count": 1000},
				},
				{
					Name:      "anomaly",
					Tool:      "anomaly",
					Arguments: map[string]any{"detection_type": "performance"},
					Condition: `succeeded("stress")`,
				},
			},
		},
	}
}
