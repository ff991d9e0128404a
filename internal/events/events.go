// Package events carries pipeline progress notifications to in-process
// subscribers (served over SSE) and to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Type string

const (
	PipelineStarted   Type = "pipeline_started"
	PipelineCompleted Type = "pipeline_completed"
	PipelineAborted   Type = "pipeline_aborted"
	StepStarted       Type = "step_started"
	StepCompleted     Type = "step_completed"
	StepFailed        Type = "step_failed"
	StepSkipped       Type = "step_skipped"
)

type Event struct {
	Type        Type      `json:"type"`
	Pipeline    string    `json:"pipeline,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Step        string    `json:"step,omitempty"`
	Tool        string    `json:"tool,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(ev Event) ([]byte, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	return json.Marshal(ev)
}
