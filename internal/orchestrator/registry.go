package orchestrator

import (
	"context"
	"sort"
	"sync"

	"debugbridge/internal/protocol"
)

// RemoteClient is the part of the protocol client executors may use.
type RemoteClient interface {
	SendRequest(ctx context.Context, req protocol.Request) (*protocol.Response, error)
	SendBatchedRequest(ctx context.Context, req protocol.Request) (*protocol.Response, error)
}

// Executor runs one tool. Arguments and output are opaque to the
// orchestrator.
type Executor interface {
	Execute(ctx context.Context, args map[string]any, client RemoteClient, tc *ToolContext) (any, error)
}

// Mutating is implemented by executors whose calls change remote state.
// Their results are never served from or stored in the shared cache.
type Mutating interface {
	Mutates() bool
}

func mutates(exec Executor) bool {
	m, ok := exec.(Mutating)
	return ok && m.Mutates()
}

type ExecutorFunc func(ctx context.Context, args map[string]any, client RemoteClient, tc *ToolContext) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, args map[string]any, client RemoteClient, tc *ToolContext) (any, error) {
	return f(ctx, args, client, tc)
}

// Registry maps tool names to executors. Registration is rare and lookups are
// frequent.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register installs exec under name; a later registration replaces an
// earlier one.
func (r *Registry) Register(name string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
}

func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	return exec, ok && exec != nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
