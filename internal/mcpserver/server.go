// Package mcpserver exposes the registered tools, ad-hoc orchestration and
// pipelines to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/logging"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/protocol"
	"debugbridge/internal/remote"
	"debugbridge/internal/tools"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Authorizer decides whether a tool call may proceed. It is consulted before
// every dispatch.
type Authorizer interface {
	Authorize(ctx context.Context, tool string) bool
}

type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string) bool { return true }

// StatusSource reports the state of the remote connection.
type StatusSource interface {
	Stats() remote.Stats
}

type Options struct {
	Name    string
	Version string

	Orchestrator *orchestrator.Orchestrator
	Status       StatusSource
	Authorizer   Authorizer
	Logger       logging.Logger
	// ContextConfig seeds the ToolContext of every call.
	ContextConfig orchestrator.ToolContextConfig
}

type Server struct {
	server *mcp.Server
	orch   *orchestrator.Orchestrator
	status StatusSource
	auth   Authorizer
	logger logging.Logger
	ctxCfg orchestrator.ToolContextConfig
}

func New(opts Options) *Server {
	s := &Server{
		orch:   opts.Orchestrator,
		status: opts.Status,
		auth:   opts.Authorizer,
		logger: opts.Logger,
		ctxCfg: opts.ContextConfig,
	}
	if s.auth == nil {
		s.auth = AllowAll{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.ctxCfg == (orchestrator.ToolContextConfig{}) {
		s.ctxCfg = orchestrator.DefaultToolContextConfig()
	}
	name := opts.Name
	if name == "" {
		name = "debugbridge"
	}
	s.server = mcp.NewServer(&mcp.Implementation{Name: name, Version: opts.Version}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves MCP over stdin/stdout until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "tools", len(s.orch.ToolNames()))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	for _, name := range s.orch.ToolNames() {
		description := "Run the " + name + " tool"
		if t, ok := tools.Lookup(name); ok {
			description = t.Description
		}
		mcp.AddTool(s.server, &mcp.Tool{Name: name, Description: description}, s.toolHandler(name))
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "orchestrate",
		Description: "Run one tool through the orchestrator with an explicit context configuration",
	}, s.handleOrchestrate)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "pipeline",
		Description: "Run a pipeline template by name or a custom pipeline definition",
	}, s.handlePipeline)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "connection_status",
		Description: "Report the state of the connection to the game process",
	}, s.handleStatus)
}

func (s *Server) toolHandler(name string) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		if denied := s.authorize(ctx, name); denied != nil {
			return denied, nil, nil
		}
		tc := orchestrator.NewToolContext(s.ctxCfg)
		out, err := s.orch.ExecuteTool(ctx, name, args, tc)
		if err != nil {
			return s.failure(name, err), nil, nil
		}
		return success(map[string]any{"result": out}), nil, nil
	}
}

type ContextConfigInput struct {
	AutoRecord         *bool `json:"auto_record,omitempty"`
	AutoExperiment     *bool `json:"auto_experiment,omitempty"`
	CacheResults       *bool `json:"cache_results,omitempty"`
	SharedCache        *bool `json:"shared_cache,omitempty" jsonschema:"reuse read-only results cached by earlier calls"`
	DebugMode          *bool `json:"debug_mode,omitempty"`
	MaxExecutionTimeMs *int  `json:"max_execution_time_ms,omitempty" jsonschema:"overall time budget in milliseconds"`
}

type OrchestrateInput struct {
	Tool      string              `json:"tool" jsonschema:"name of the tool to run"`
	Arguments map[string]any      `json:"arguments,omitempty" jsonschema:"arguments passed to the tool unchanged"`
	Config    *ContextConfigInput `json:"config,omitempty"`
}

func (s *Server) contextConfig(in *ContextConfigInput) orchestrator.ToolContextConfig {
	cfg := s.ctxCfg
	if in == nil {
		return cfg
	}
	if in.AutoRecord != nil {
		cfg.AutoRecord = *in.AutoRecord
	}
	if in.AutoExperiment != nil {
		cfg.AutoExperiment = *in.AutoExperiment
	}
	if in.CacheResults != nil {
		cfg.CacheResults = *in.CacheResults
	}
	if in.SharedCache != nil {
		cfg.SharedCache = *in.SharedCache
	}
	if in.DebugMode != nil {
		cfg.DebugMode = *in.DebugMode
	}
	if in.MaxExecutionTimeMs != nil && *in.MaxExecutionTimeMs > 0 {
		cfg.MaxExecutionTime = orchestrator.Duration(time.Duration(*in.MaxExecutionTimeMs) * time.Millisecond)
	}
	return cfg
}

func (s *Server) handleOrchestrate(ctx context.Context, _ *mcp.CallToolRequest, in OrchestrateInput) (*mcp.CallToolResult, any, error) {
	if in.Tool == "" {
		return s.failure("orchestrate", apperr.Validation("tool", "missing 'tool' field")), nil, nil
	}
	if denied := s.authorize(ctx, in.Tool); denied != nil {
		return denied, nil, nil
	}
	tc := orchestrator.NewToolContext(s.contextConfig(in.Config))
	out, err := s.orch.ExecuteTool(ctx, in.Tool, in.Arguments, tc)
	if err != nil {
		return s.failure(in.Tool, err), nil, nil
	}
	return success(map[string]any{
		"tool_result": out,
		"context":     tc.Summary(),
	}), nil, nil
}

type PipelineInput struct {
	Template string              `json:"template,omitempty" jsonschema:"name of a registered pipeline template"`
	Pipeline map[string]any      `json:"pipeline,omitempty" jsonschema:"custom pipeline definition"`
	Config   *ContextConfigInput `json:"config,omitempty"`
}

func (s *Server) handlePipeline(ctx context.Context, _ *mcp.CallToolRequest, in PipelineInput) (*mcp.CallToolResult, any, error) {
	if denied := s.authorize(ctx, "pipeline"); denied != nil {
		return denied, nil, nil
	}
	sub := orchestrator.Submission{Template: in.Template}
	if in.Pipeline != nil {
		raw, err := json.Marshal(in.Pipeline)
		if err != nil {
			return s.failure("pipeline", apperr.Validation("pipeline", "invalid pipeline format").Wrap(err)), nil, nil
		}
		p, err := orchestrator.DecodePipeline(raw, orchestrator.FormatJSON)
		if err != nil {
			return s.failure("pipeline", err), nil, nil
		}
		sub.Pipeline = p
	}
	p, err := s.orch.Resolve(sub)
	if err != nil {
		return s.failure("pipeline", err), nil, nil
	}

	tc := orchestrator.NewToolContext(s.contextConfig(in.Config))
	res, err := s.orch.ExecutePipeline(ctx, p, tc)
	if res == nil {
		return s.failure("pipeline", err), nil, nil
	}
	body := map[string]any{"pipeline_result": res, "context": tc.Summary()}
	if err != nil {
		body["error"] = apperr.KindOf(err)
		body["message"] = err.Error()
		return errorResult(body), nil, nil
	}
	return success(body), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	if denied := s.authorize(ctx, "connection_status"); denied != nil {
		return denied, nil, nil
	}
	body := map[string]any{"tools": s.orch.ToolNames(), "templates": s.orch.Templates()}
	if s.status != nil {
		body["connection"] = s.status.Stats()
	}
	return success(body), nil, nil
}

func (s *Server) authorize(ctx context.Context, tool string) *mcp.CallToolResult {
	if s.auth.Authorize(ctx, tool) {
		return nil
	}
	s.logger.Warn("tool call denied", "tool", tool)
	return errorResult(map[string]any{"error": "permission_denied", "message": "not authorized to call " + tool})
}

func (s *Server) failure(tool string, err error) *mcp.CallToolResult {
	if err == nil {
		err = apperr.Protocol("no result")
	}
	s.logger.Warn("tool call failed", "tool", tool, "kind", apperr.KindOf(err), "err", err)
	body := map[string]any{"error": apperr.KindOf(err), "message": err.Error()}
	var remoteErr *protocol.RemoteError
	if errors.As(err, &remoteErr) {
		body["error"] = "remote_error"
		body["code"] = remoteErr.Code
	}
	if subject := apperr.SubjectOf(err); subject != "" {
		body["subject"] = subject
	}
	return errorResult(body)
}

func success(body any) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: mustJSON(body)}}}
}

func errorResult(body any) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: mustJSON(body)}}}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": "internal_error", "message": err.Error()})
	}
	return string(b)
}
