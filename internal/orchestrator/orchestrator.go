package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/cache"
	"debugbridge/internal/events"
	"debugbridge/internal/logging"
	"debugbridge/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("debugbridge/orchestrator")

const defaultMaxParallel = 4

type Options struct {
	Client RemoteClient
	Logger logging.Logger
	// Cache is consulted after the run's own results when a context has
	// both CacheResults and SharedCache set. Mutating executors never use
	// it. Nil disables the shared cache.
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   events.Publisher
	// AllowedTools restricts pipeline steps. Empty allows every registered
	// tool.
	AllowedTools []string
	MaxParallel  int
}

// Orchestrator runs registered tools on their own or as pipelines.
type Orchestrator struct {
	client      RemoteClient
	logger      logging.Logger
	registry    *Registry
	templates   *templateSet
	cache       cache.Cache
	cacheTTL    time.Duration
	events      events.Publisher
	allowed     []string
	maxParallel int
	now         func() time.Time
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		client:      opts.Client,
		logger:      opts.Logger,
		registry:    NewRegistry(),
		templates:   newTemplateSet(),
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		events:      opts.Events,
		allowed:     append([]string(nil), opts.AllowedTools...),
		maxParallel: opts.MaxParallel,
		now:         time.Now,
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.cache == nil {
		o.cache = cache.Noop{}
	}
	if o.events == nil {
		o.events = events.Noop{}
	}
	if o.maxParallel <= 0 {
		o.maxParallel = defaultMaxParallel
	}
	return o
}

func (o *Orchestrator) Register(name string, exec Executor) {
	o.registry.Register(name, exec)
	o.logger.Debug("tool registered", "tool", name)
}

func (o *Orchestrator) Lookup(name string) (Executor, bool) {
	return o.registry.Lookup(name)
}

func (o *Orchestrator) ToolNames() []string {
	return o.registry.Names()
}

// RegisterTemplate stores a copy of p under p.Name, replacing any earlier
// template with that name.
func (o *Orchestrator) RegisterTemplate(p *ToolPipeline) error {
	if p == nil || p.Name == "" {
		return apperr.Validation("template", "template needs a name")
	}
	o.templates.register(p)
	return nil
}

func (o *Orchestrator) RegisterBuiltinTemplates() {
	for _, p := range BuiltinTemplates() {
		o.templates.register(p)
	}
}

// Template returns a copy of the named template.
func (o *Orchestrator) Template(name string) (*ToolPipeline, error) {
	return o.templates.get(name)
}

func (o *Orchestrator) Templates() []TemplateInfo {
	return o.templates.list()
}

// Resolve turns a submission into the pipeline to run.
func (o *Orchestrator) Resolve(sub Submission) (*ToolPipeline, error) {
	switch {
	case sub.Template != "" && sub.Pipeline != nil:
		return nil, apperr.Validation("submission", "give either a template or a pipeline, not both")
	case sub.Template != "":
		return o.Template(sub.Template)
	case sub.Pipeline != nil:
		return sub.Pipeline, nil
	default:
		return nil, apperr.Validation("submission", "a template name or a pipeline is required")
	}
}

func (o *Orchestrator) allowedTools() map[string]bool {
	names := o.allowed
	if len(names) == 0 {
		names = o.registry.Names()
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// ValidatePipeline checks p without running anything.
func (o *Orchestrator) ValidatePipeline(p *ToolPipeline) error {
	_, err := validatePipeline(p, o.allowedTools())
	return err
}

// ExecuteTool runs one tool once and returns its raw output. The result is
// recorded in tc under the tool name when tc.Config.AutoRecord is set.
func (o *Orchestrator) ExecuteTool(ctx context.Context, name string, args map[string]any, tc *ToolContext) (any, error) {
	if tc == nil {
		tc = NewToolContext(DefaultToolContextConfig())
	}
	if _, ok := o.registry.Lookup(name); !ok {
		return nil, apperr.UnknownTool(name)
	}
	ctx, cancel := withBudget(ctx, tc.Config.MaxExecutionTime.Std())
	defer cancel()

	ctx, span := tracer.Start(ctx, "tool "+name, trace.WithAttributes(
		attribute.String("debugbridge.tool", name),
		attribute.String("debugbridge.execution_id", string(tc.ExecutionID)),
	))
	defer span.End()

	res, err := o.invoke(ctx, name, args, singleAttempt(), DefaultStepTimeout, tc)
	endSpan(span, res, err)
	if tc.Config.AutoRecord {
		tc.AddResult(name, res)
	}
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func endSpan(span trace.Span, res ToolResult, err error) {
	span.SetAttributes(
		attribute.Int("debugbridge.attempts", res.Attempts),
		attribute.Bool("debugbridge.cached", res.Cached),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err))
	}
}

// retryable reports whether another attempt could succeed. Shape errors do
// not change between attempts.
func retryable(err error) bool {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrUnknownTool),
		errors.Is(err, apperr.ErrProtocol),
		errors.Is(err, apperr.ErrCircularDependency):
		return false
	}
	return true
}

// invoke runs tool with the retry policy, each attempt bounded by timeout.
// ctx bounds the whole call, backoff sleeps included.
func (o *Orchestrator) invoke(ctx context.Context, tool string, args map[string]any, policy RetryConfig, timeout time.Duration, tc *ToolContext) (ToolResult, error) {
	key := CacheKey(tool, args)
	exec, ok := o.registry.Lookup(tool)
	if !ok {
		err := apperr.UnknownTool(tool)
		return ToolResult{
			ToolName:    tool,
			ExecutionID: NewExecutionID(),
			Error:       err.Error(),
			Timestamp:   o.now().UTC(),
			CacheKey:    key,
		}, err
	}
	shared := tc.Config.CacheResults && tc.Config.SharedCache && !mutates(exec)
	if tc.Config.CacheResults {
		if res, ok := o.lookupCache(ctx, key, tc, shared); ok {
			metrics.RecordStep(tool, "cached", 0)
			return res, nil
		}
	}

	start := o.now()
	attempts := 0
	var output any
	var lastErr error
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := exec.Execute(attemptCtx, args, o.client, tc)
		if err == nil {
			output = out
			return nil
		}
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
			err = apperr.Timeout("tool %q exceeded %s", tool, timeout).Wrap(err)
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("tool attempt failed, retrying",
			"tool", tool, "attempt", attempts, "max_attempts", policy.MaxAttempts,
			"retry_in", wait, "err", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy.BackOff(), ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = apperr.Timeout("tool %q interrupted after %d attempts", tool, attempts).Wrap(errors.Join(ctx.Err(), lastErr))
	}

	elapsed := o.now().Sub(start)
	res := ToolResult{
		ToolName:      tool,
		ExecutionID:   NewExecutionID(),
		Success:       err == nil,
		Output:        output,
		ExecutionTime: Duration(elapsed),
		Timestamp:     start.UTC(),
		CacheKey:      key,
		Attempts:      attempts,
	}
	if err != nil {
		res.Error = err.Error()
		metrics.RecordStep(tool, apperr.KindOf(err), elapsed)
		return res, err
	}
	metrics.RecordStep(tool, "success", elapsed)
	if shared {
		o.storeCache(ctx, res)
	}
	return res, nil
}

// lookupCache prefers a successful result already in the run over the
// shared cache, which is only read when shared is set.
func (o *Orchestrator) lookupCache(ctx context.Context, key string, tc *ToolContext, shared bool) (ToolResult, bool) {
	if res, ok := tc.cachedResult(key); ok {
		res.Cached = true
		return res, true
	}
	if !shared {
		return ToolResult{}, false
	}
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("result cache lookup failed", "key", key, "err", err)
		return ToolResult{}, false
	}
	if !ok {
		return ToolResult{}, false
	}
	var res ToolResult
	if err := json.Unmarshal(raw, &res); err != nil || !res.Success {
		return ToolResult{}, false
	}
	res.Cached = true
	return res, true
}

func (o *Orchestrator) storeCache(ctx context.Context, res ToolResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		o.logger.Debug("tool output not cacheable", "tool", res.ToolName, "err", err)
		return
	}
	if err := o.cache.Set(context.WithoutCancel(ctx), res.CacheKey, raw, o.cacheTTL); err != nil {
		o.logger.Warn("result cache store failed", "tool", res.ToolName, "err", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = o.now().UTC()
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("publish event failed", "type", ev.Type, "err", err)
	}
}

type RunState string

const (
	StateValidating RunState = "validating"
	StateScheduling RunState = "scheduling"
	StateExecuting  RunState = "executing"
	StateCompleted  RunState = "completed"
	StateAborted    RunState = "aborted"
)

// PipelineResult reports a run. Results holds every step that executed,
// keyed by step name.
type PipelineResult struct {
	Name        string                `json:"name"`
	ExecutionID ExecutionID           `json:"execution_id"`
	State       RunState              `json:"state"`
	Executed    []string              `json:"executed"`
	Skipped     []string              `json:"skipped"`
	Failed      []string              `json:"failed"`
	Results     map[string]ToolResult `json:"results"`
	Duration    Duration              `json:"duration"`
}

func (r *PipelineResult) Succeeded() bool {
	return r.State == StateCompleted && len(r.Failed) == 0
}

type pipelineRun struct {
	o      *Orchestrator
	pl     *plan
	tc     *ToolContext
	logger logging.Logger

	mu     sync.Mutex
	result *PipelineResult
	errs   []error
}

// ExecutePipeline validates p and runs its steps in dependency order,
// recording each executed step in tc under the step name. Validation
// failures return a nil result and run nothing.
//
// tc.Config.MaxExecutionTime bounds the whole run. When it expires, steps in
// flight are cancelled, including any waiting out a retry delay, and no
// further steps start.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, p *ToolPipeline, tc *ToolContext) (*PipelineResult, error) {
	if tc == nil {
		tc = NewToolContext(DefaultToolContextConfig())
	}
	start := o.now()

	pl, err := validatePipeline(p, o.allowedTools())
	if err != nil {
		o.logger.Warn("pipeline rejected", "pipeline", pipelineName(p), "err", err)
		return nil, err
	}

	r := &pipelineRun{
		o:      o,
		pl:     pl,
		tc:     tc,
		logger: o.logger.With("pipeline", p.Name, "execution_id", string(tc.ExecutionID)),
		result: &PipelineResult{
			Name:        p.Name,
			ExecutionID: tc.ExecutionID,
			State:       StateScheduling,
			Executed:    []string{},
			Skipped:     []string{},
			Failed:      []string{},
			Results:     map[string]ToolResult{},
		},
	}

	var levels [][]string
	if p.ParallelExecution {
		levels, err = pl.levels()
	} else {
		var order []string
		order, err = pl.order()
		for _, name := range order {
			levels = append(levels, []string{name})
		}
	}
	if err != nil {
		return nil, err
	}

	runCtx, cancel := withBudget(ctx, tc.Config.MaxExecutionTime.Std())
	defer cancel()
	runCtx, span := tracer.Start(runCtx, "pipeline "+p.Name, trace.WithAttributes(
		attribute.String("debugbridge.pipeline", p.Name),
		attribute.String("debugbridge.execution_id", string(tc.ExecutionID)),
		attribute.Int("debugbridge.steps", len(p.Steps)),
		attribute.Bool("debugbridge.parallel", p.ParallelExecution),
	))
	defer span.End()

	r.result.State = StateExecuting
	r.logger.Info("pipeline started", "steps", describeSteps(pl.names), "parallel", p.ParallelExecution, "fail_fast", p.FailFast)
	o.publish(runCtx, events.Event{Type: events.PipelineStarted, Pipeline: p.Name, ExecutionID: string(tc.ExecutionID)})

	runErr := r.execute(runCtx, levels)

	r.result.Duration = Duration(o.now().Sub(start))
	for _, name := range r.result.Executed {
		if res, ok := tc.Result(name); ok {
			r.result.Results[name] = res
		}
	}
	metrics.RecordPipeline(string(r.result.State))

	ev := events.Event{Pipeline: p.Name, ExecutionID: string(tc.ExecutionID)}
	if r.result.State == StateAborted {
		ev.Type = events.PipelineAborted
		ev.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, apperr.KindOf(runErr))
		r.logger.Warn("pipeline aborted", "executed", len(r.result.Executed), "err", runErr)
	} else {
		ev.Type = events.PipelineCompleted
		if runErr != nil {
			ev.Error = runErr.Error()
			span.SetStatus(codes.Error, "steps failed")
		}
		r.logger.Info("pipeline completed",
			"executed", len(r.result.Executed), "skipped", len(r.result.Skipped),
			"failed", len(r.result.Failed), "duration", r.result.Duration)
	}
	o.publish(runCtx, ev)
	return r.result, runErr
}

func pipelineName(p *ToolPipeline) string {
	if p == nil {
		return ""
	}
	return p.Name
}

// execute runs levels in order. Steps of one level run concurrently, bounded
// by MaxParallel; a failing step never cancels its siblings.
func (r *pipelineRun) execute(ctx context.Context, levels [][]string) error {
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return r.abort(r.interrupted(err))
		}

		var stepErr error
		if len(level) == 1 {
			stepErr = r.runStep(ctx, level[0])
		} else {
			var g errgroup.Group
			g.SetLimit(r.o.maxParallel)
			for _, name := range level {
				g.Go(func() error { return r.runStep(ctx, name) })
			}
			stepErr = g.Wait()
		}
		if stepErr != nil && r.pl.pipeline.FailFast {
			return r.abort(stepErr)
		}
	}
	if err := ctx.Err(); err != nil {
		return r.abort(r.interrupted(err))
	}

	r.result.State = StateCompleted
	return errors.Join(r.errs...)
}

func (r *pipelineRun) interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("pipeline %q exceeded %s", r.pl.pipeline.Name, r.tc.Config.MaxExecutionTime).Wrap(err)
	}
	return fmt.Errorf("pipeline %q cancelled: %w", r.pl.pipeline.Name, err)
}

func (r *pipelineRun) abort(err error) error {
	r.result.State = StateAborted
	return err
}

// runStep returns the step's error when it ran and failed. Skipped steps
// return nil.
func (r *pipelineRun) runStep(ctx context.Context, name string) error {
	step := r.pl.steps[name]
	o := r.o
	base := events.Event{Pipeline: r.pl.pipeline.Name, ExecutionID: string(r.tc.ExecutionID), Step: name, Tool: step.Tool}

	if program, ok := r.pl.conditions[name]; ok {
		run, err := evalCondition(program, r.tc)
		if err != nil {
			r.logger.Warn("step condition could not be evaluated, skipping", "step", name, "err", err)
		}
		if err != nil || !run {
			r.mu.Lock()
			r.result.Skipped = append(r.result.Skipped, name)
			r.mu.Unlock()
			r.logger.Debug("step skipped", "step", name, "condition", step.Condition)
			ev := base
			ev.Type = events.StepSkipped
			o.publish(ctx, ev)
			return nil
		}
	}

	ctx, span := tracer.Start(ctx, "step "+name, trace.WithAttributes(
		attribute.String("debugbridge.step", name),
		attribute.String("debugbridge.tool", step.Tool),
	))
	defer span.End()

	ev := base
	ev.Type = events.StepStarted
	o.publish(ctx, ev)

	res, err := o.invoke(ctx, step.Tool, step.Arguments, step.retry(), step.timeout(), r.tc)
	endSpan(span, res, err)
	r.tc.AddResult(name, res)

	r.mu.Lock()
	r.result.Executed = append(r.result.Executed, name)
	if err != nil {
		err = fmt.Errorf("step %q: %w", name, err)
		r.result.Failed = append(r.result.Failed, name)
		r.errs = append(r.errs, err)
	}
	r.mu.Unlock()

	ev = base
	ev.Attempts = res.Attempts
	if err != nil {
		ev.Type = events.StepFailed
		ev.Error = err.Error()
		r.logger.Warn("step failed", "step", name, "tool", step.Tool, "attempts", res.Attempts, "err", err)
	} else {
		ev.Type = events.StepCompleted
		r.logger.Debug("step completed", "step", name, "tool", step.Tool,
			"attempts", res.Attempts, "cached", res.Cached, "duration", res.ExecutionTime)
	}
	o.publish(ctx, ev)
	return err
}
