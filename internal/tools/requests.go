package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"debugbridge/internal/apperr"
	"debugbridge/internal/protocol"
)

func buildObserve(args map[string]any) (protocol.Request, error) {
	if _, ok := args["entity"]; ok {
		id, err := entityArg(args, "entity")
		if err != nil {
			return protocol.Request{}, err
		}
		components, err := stringsArg(args, "components")
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.NewGet(id, components...)
	}

	if ok, err := boolArg(args, "types"); err != nil {
		return protocol.Request{}, err
	} else if ok {
		return protocol.NewListComponents()
	}

	filter, err := filterArg(args)
	if err != nil {
		return protocol.Request{}, err
	}
	if ok, err := boolArg(args, "list"); err != nil {
		return protocol.Request{}, err
	} else if ok {
		return protocol.NewListEntities(filter)
	}

	var limit *int
	if _, ok := args["limit"]; ok {
		n, err := intArg(args, "limit")
		if err != nil {
			return protocol.Request{}, err
		}
		limit = &n
	}
	return protocol.NewQuery(filter, limit)
}

func buildExperiment(args map[string]any) (protocol.Request, error) {
	action, _ := args["action"].(string)
	switch strings.ToLower(action) {
	case "spawn":
		components, err := componentsArg(args, false)
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.NewSpawn(components)
	case "set":
		id, err := entityArg(args, "entity")
		if err != nil {
			return protocol.Request{}, err
		}
		components, err := componentsArg(args, true)
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.NewSet(id, components)
	case "destroy":
		id, err := entityArg(args, "entity")
		if err != nil {
			return protocol.Request{}, err
		}
		return protocol.NewDestroy(id)
	case "":
		return protocol.Request{}, apperr.Validation("action", "experiment needs an action: spawn, set or destroy")
	default:
		return protocol.Request{}, apperr.Validation("action", "unknown experiment action %q", action)
	}
}

// debugCommand relays the arguments to the remote as a named command. A
// non-empty required names an argument that must be a non-empty string.
func debugCommand(command, required string) func(map[string]any) (protocol.Request, error) {
	return func(args map[string]any) (protocol.Request, error) {
		if required != "" {
			v, _ := args[required].(string)
			if strings.TrimSpace(v) == "" {
				return protocol.Request{}, apperr.Validation(required, "%s needs a %q argument", command, required)
			}
		}
		return protocol.NewDebugCommand(command, args)
	}
}

func buildScreenshot(args map[string]any) (protocol.Request, error) {
	var p protocol.ScreenshotParams
	p.Path, _ = args["path"].(string)
	p.Description, _ = args["description"].(string)
	for key, dst := range map[string]**int64{"warmup_duration": &p.WarmupDuration, "capture_delay": &p.CaptureDelay} {
		if _, ok := args[key]; !ok {
			continue
		}
		n, err := intArg(args, key)
		if err != nil {
			return protocol.Request{}, err
		}
		if n < 0 {
			return protocol.Request{}, apperr.Validation(key, "%s cannot be negative", key)
		}
		v := int64(n)
		*dst = &v
	}
	if _, ok := args["wait_for_render"]; ok {
		b, err := boolArg(args, "wait_for_render")
		if err != nil {
			return protocol.Request{}, err
		}
		p.WaitForRender = &b
	}
	return protocol.NewScreenshot(p)
}

func filterArg(args map[string]any) (*protocol.QueryFilter, error) {
	with, err := stringsArg(args, "with")
	if err != nil {
		return nil, err
	}
	without, err := stringsArg(args, "without")
	if err != nil {
		return nil, err
	}
	if len(with) == 0 && len(without) == 0 {
		return nil, nil
	}
	return &protocol.QueryFilter{With: with, Without: without}, nil
}

func componentsArg(args map[string]any, required bool) (map[string]any, error) {
	raw, ok := args["components"]
	if !ok || raw == nil {
		if required {
			return nil, apperr.Validation("components", "components are required")
		}
		return map[string]any{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Validation("components", "components must be an object keyed by component type")
	}
	return m, nil
}

func entityArg(args map[string]any, key string) (protocol.EntityID, error) {
	raw, ok := args[key]
	if !ok {
		return 0, apperr.Validation(key, "%s is required", key)
	}
	var id uint64
	switch v := raw.(type) {
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
			return 0, apperr.Validation(key, "%s must be a non-negative integer", key)
		}
		id = uint64(v)
	case int:
		if v < 0 {
			return 0, apperr.Validation(key, "%s must be a non-negative integer", key)
		}
		id = uint64(v)
	case int64:
		if v < 0 {
			return 0, apperr.Validation(key, "%s must be a non-negative integer", key)
		}
		id = uint64(v)
	case uint64:
		id = v
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0, apperr.Validation(key, "%s must be a non-negative integer", key).Wrap(err)
		}
		id = n
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, apperr.Validation(key, "%s must be a non-negative integer", key).Wrap(err)
		}
		id = n
	default:
		return 0, apperr.Validation(key, "%s has unsupported type %T", key, raw)
	}
	return protocol.EntityID(id), nil
}

func intArg(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, apperr.Validation(key, "%s must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, apperr.Validation(key, "%s must be an integer", key).Wrap(err)
		}
		return int(n), nil
	default:
		return 0, apperr.Validation(key, "%s must be an integer, got %T", key, args[key])
	}
}

func boolArg(args map[string]any, key string) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, apperr.Validation(key, "%s must be a boolean", key)
	}
	return b, nil
}

// stringsArg accepts a list of strings or a single comma separated string.
func stringsArg(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, apperr.Validation(key, "%s[%d] must be a string", key, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, apperr.Validation(key, "%s must be a list of strings", key)
	}
}
