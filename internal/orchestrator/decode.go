package orchestrator

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"debugbridge/internal/apperr"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Submission is what a caller hands in to run a pipeline: a template name or
// a full pipeline, not both.
type Submission struct {
	Template string        `json:"template,omitempty"`
	Pipeline *ToolPipeline `json:"pipeline,omitempty"`
}

// FormatFromPath picks a decoder from the file extension, defaulting to JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// DecodePipeline reads a pipeline in json, yaml or toml. YAML and TOML are
// normalized through JSON so every format shares the same field names and
// duration rules.
func DecodePipeline(data []byte, format string) (*ToolPipeline, error) {
	var raw []byte
	switch strings.ToLower(format) {
	case "", FormatJSON:
		raw = data
	case FormatYAML, "yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, apperr.Validation("pipeline", "invalid yaml").Wrap(err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, apperr.Validation("pipeline", "unsupported yaml value").Wrap(err)
		}
		raw = b
	case FormatTOML:
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, apperr.Validation("pipeline", "invalid toml").Wrap(err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, apperr.Validation("pipeline", "unsupported toml value").Wrap(err)
		}
		raw = b
	default:
		return nil, apperr.Validation("pipeline", "unsupported pipeline format %q", format)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p ToolPipeline
	if err := dec.Decode(&p); err != nil {
		return nil, apperr.Validation("pipeline", "decode pipeline").Wrap(err)
	}
	return &p, nil
}

// RunRequest is the JSON body accepted by the HTTP and queue surfaces: a
// submission plus optional overrides of the context configuration.
type RunRequest struct {
	Template string          `json:"template,omitempty"`
	Pipeline json.RawMessage `json:"pipeline,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// DecodeRunRequest parses a RunRequest. Fields present in "config" override
// base; absent ones keep base's values.
func DecodeRunRequest(data []byte, base ToolContextConfig) (Submission, ToolContextConfig, error) {
	var req RunRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return Submission{}, base, apperr.Validation("request", "invalid request body").Wrap(err)
	}
	sub := Submission{Template: req.Template}
	if len(req.Pipeline) > 0 && !bytes.Equal(bytes.TrimSpace(req.Pipeline), []byte("null")) {
		p, err := DecodePipeline(req.Pipeline, FormatJSON)
		if err != nil {
			return Submission{}, base, err
		}
		sub.Pipeline = p
	}
	cfg, err := overlayConfig(base, req.Config)
	if err != nil {
		return Submission{}, base, err
	}
	return sub, cfg, nil
}

func overlayConfig(base ToolContextConfig, raw json.RawMessage) (ToolContextConfig, error) {
	if len(raw) == 0 {
		return base, nil
	}
	var over struct {
		AutoRecord       *bool     `json:"auto_record"`
		AutoExperiment   *bool     `json:"auto_experiment"`
		CacheResults     *bool     `json:"cache_results"`
		SharedCache      *bool     `json:"shared_cache"`
		MaxExecutionTime *Duration `json:"max_execution_time"`
		DebugMode        *bool     `json:"debug_mode"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&over); err != nil {
		return base, apperr.Validation("config", "invalid context config").Wrap(err)
	}
	cfg := base
	if over.AutoRecord != nil {
		cfg.AutoRecord = *over.AutoRecord
	}
	if over.AutoExperiment != nil {
		cfg.AutoExperiment = *over.AutoExperiment
	}
	if over.CacheResults != nil {
		cfg.CacheResults = *over.CacheResults
	}
	if over.SharedCache != nil {
		cfg.SharedCache = *over.SharedCache
	}
	if over.MaxExecutionTime != nil {
		cfg.MaxExecutionTime = *over.MaxExecutionTime
	}
	if over.DebugMode != nil {
		cfg.DebugMode = *over.DebugMode
	}
	return cfg, nil
}
