package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionID identifies one tool invocation or one pipeline run.
type ExecutionID string

func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.NewString())
}

// ToolContextConfig controls one context. SharedCache extends cache lookups
// past the context's own results to the orchestrator's shared cache.
type ToolContextConfig struct {
	AutoRecord       bool     `json:"auto_record"`
	AutoExperiment   bool     `json:"auto_experiment"`
	CacheResults     bool     `json:"cache_results"`
	SharedCache      bool     `json:"shared_cache"`
	MaxExecutionTime Duration `json:"max_execution_time"`
	DebugMode        bool     `json:"debug_mode"`
}

func DefaultToolContextConfig() ToolContextConfig {
	return ToolContextConfig{
		AutoRecord:       true,
		AutoExperiment:   false,
		CacheResults:     true,
		SharedCache:      false,
		MaxExecutionTime: Duration(300 * time.Second),
		DebugMode:        false,
	}
}

// UnmarshalJSON fills omitted fields from DefaultToolContextConfig.
func (c *ToolContextConfig) UnmarshalJSON(data []byte) error {
	type plain ToolContextConfig
	p := plain(DefaultToolContextConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ToolContextConfig(p)
	return nil
}

// ToolResult is the immutable record of one tool execution.
type ToolResult struct {
	ToolName      string      `json:"tool_name"`
	ExecutionID   ExecutionID `json:"execution_id"`
	Success       bool        `json:"success"`
	Output        any         `json:"output,omitempty"`
	Error         string      `json:"error,omitempty"`
	ExecutionTime Duration    `json:"execution_time"`
	Timestamp     time.Time   `json:"timestamp"`
	CacheKey      string      `json:"cache_key,omitempty"`
	Attempts      int         `json:"attempts"`
	Cached        bool        `json:"cached,omitempty"`
}

// CacheKey identifies a tool call by tool name and arguments. Map keys are
// sorted by encoding/json, so equal arguments hash equally.
func CacheKey(tool string, args map[string]any) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	if data, err := json.Marshal(args); err == nil {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ToolContext is the state shared by the steps of one run. It is safe for
// concurrent use by parallel steps.
type ToolContext struct {
	ExecutionID ExecutionID
	Config      ToolContextConfig

	mu             sync.RWMutex
	results        map[string]ToolResult
	variables      map[string]any
	executionCount int
}

func NewToolContext(cfg ToolContextConfig) *ToolContext {
	return &ToolContext{
		ExecutionID: NewExecutionID(),
		Config:      cfg,
		results:     make(map[string]ToolResult),
		variables:   make(map[string]any),
	}
}

// AddResult records r under key, replacing any earlier result, and bumps the
// execution count.
func (c *ToolContext) AddResult(key string, r ToolResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = r
	c.executionCount++
}

func (c *ToolContext) Result(key string) (ToolResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[key]
	return r, ok
}

func (c *ToolContext) Results() map[string]ToolResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ToolResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

func (c *ToolContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

func (c *ToolContext) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

func (c *ToolContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

func (c *ToolContext) ExecutionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executionCount
}

// cachedResult finds a successful result recorded under cacheKey.
func (c *ToolContext) cachedResult(cacheKey string) (ToolResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.results {
		if r.Success && r.CacheKey == cacheKey {
			return r, true
		}
	}
	return ToolResult{}, false
}

// ContextSummary is the view of a context handed back to callers: ids,
// counts and configuration, without tool outputs.
type ContextSummary struct {
	ExecutionID    ExecutionID       `json:"execution_id"`
	ExecutionCount int               `json:"execution_count"`
	Results        []string          `json:"results"`
	Failed         []string          `json:"failed,omitempty"`
	Variables      []string          `json:"variables"`
	Config         ToolContextConfig `json:"config"`
}

func (c *ToolContext) Summary() ContextSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := ContextSummary{
		ExecutionID:    c.ExecutionID,
		ExecutionCount: c.executionCount,
		Results:        make([]string, 0, len(c.results)),
		Variables:      make([]string, 0, len(c.variables)),
		Config:         c.Config,
	}
	for name, r := range c.results {
		s.Results = append(s.Results, name)
		if !r.Success {
			s.Failed = append(s.Failed, name)
		}
	}
	for name := range c.variables {
		s.Variables = append(s.Variables, name)
	}
	sort.Strings(s.Results)
	sort.Strings(s.Failed)
	sort.Strings(s.Variables)
	return s
}
