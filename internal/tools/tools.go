// Package tools holds the executors exposed to pipelines and MCP clients.
// Each tool turns its arguments into one protocol request.
package tools

import (
	"context"

	"debugbridge/internal/apperr"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/protocol"
)

type Tool struct {
	Name        string
	Description string
	// Batched tools go through the client's batch queue.
	Batched bool
	// Mutating tools change game state. Their results are never shared
	// between contexts.
	Mutating bool
	build    func(args map[string]any) (protocol.Request, error)
}

func (t Tool) Mutates() bool { return t.Mutating }

func (t Tool) Request(args map[string]any) (protocol.Request, error) {
	if args == nil {
		args = map[string]any{}
	}
	return t.build(args)
}

// Execute sends the tool's request and returns {"type": ..., "data": ...}.
// A remote error response is returned as a *protocol.RemoteError.
func (t Tool) Execute(ctx context.Context, args map[string]any, client orchestrator.RemoteClient, _ *orchestrator.ToolContext) (any, error) {
	req, err := t.Request(args)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apperr.Connection("no remote client for tool %q", t.Name)
	}

	send := client.SendRequest
	if t.Batched {
		send = client.SendBatchedRequest
	}
	resp, err := send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, apperr.Protocol("%s answered without a result", req.Method)
	}
	data, err := resp.Result.Value()
	if err != nil {
		return nil, apperr.Protocol("decode %s result", req.Method).Wrap(err)
	}
	return map[string]any{"type": resp.Result.Type, "data": data}, nil
}

func All() []Tool {
	return []Tool{
		{
			Name:        "observe",
			Description: "Inspect entities and components: get one entity, list entities, list component types, or query by component filter",
			build:       buildObserve,
		},
		{
			Name:        "experiment",
			Mutating:    true,
			Description: "Change game state: spawn, set components on, or destroy an entity",
			build:       buildExperiment,
		},
		{
			Name:        "hypothesis",
			Mutating:    true,
			Description: "Ask the remote process to test a hypothesis about game behavior",
			build:       debugCommand("hypothesis", "hypothesis"),
		},
		{
			Name:        "replay",
			Mutating:    true,
			Description: "Replay recorded game state from a checkpoint",
			build:       debugCommand("replay", ""),
		},
		{
			Name:        "stress",
			Mutating:    true,
			Description: "Run a stress scenario such as mass entity spawning",
			Batched:     true,
			build:       debugCommand("stress", ""),
		},
		{
			Name:        "anomaly",
			Description: "Run anomaly detection over recent game behavior",
			Batched:     true,
			build:       debugCommand("anomaly", ""),
		},
		{
			Name:        "screenshot",
			Mutating:    true,
			Description: "Capture a screenshot of the game window",
			build:       buildScreenshot,
		},
	}
}

type Registrar interface {
	Register(name string, exec orchestrator.Executor)
}

// Register installs every tool on r.
func Register(r Registrar) {
	for _, t := range All() {
		r.Register(t.Name, t)
	}
}

// Lookup returns the tool description for name.
func Lookup(name string) (Tool, bool) {
	for _, t := range All() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
