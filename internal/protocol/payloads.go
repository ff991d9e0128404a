package protocol

import "encoding/json"

type EntityID uint64

type QueryFilter struct {
	With    []string          `json:"with,omitempty"`
	Without []string          `json:"without,omitempty"`
	Where   []ComponentFilter `json:"where_clause,omitempty"`
}

type ComponentFilter struct {
	Component string          `json:"component"`
	Field     string          `json:"field,omitempty"`
	Op        string          `json:"op"`
	Value     json.RawMessage `json:"value"`
}

type QueryParams struct {
	Filter *QueryFilter `json:"filter,omitempty"`
	Limit  *int         `json:"limit,omitempty"`
}

type GetParams struct {
	Entity     EntityID `json:"entity"`
	Components []string `json:"components,omitempty"`
}

type SetParams struct {
	Entity     EntityID                   `json:"entity"`
	Components map[string]json.RawMessage `json:"components"`
}

type SpawnParams struct {
	Components map[string]json.RawMessage `json:"components"`
}

type DestroyParams struct {
	Entity EntityID `json:"entity"`
}

type ListEntitiesParams struct {
	Filter *QueryFilter `json:"filter,omitempty"`
}

type ScreenshotParams struct {
	Path           string `json:"path,omitempty"`
	WarmupDuration *int64 `json:"warmup_duration,omitempty"`
	CaptureDelay   *int64 `json:"capture_delay,omitempty"`
	WaitForRender  *bool  `json:"wait_for_render,omitempty"`
	Description    string `json:"description,omitempty"`
}

// DebugCommandParams is the generic escape hatch: the command name and its
// arguments are relayed to the remote process without interpretation.
type DebugCommandParams struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

type EntityData struct {
	ID         EntityID                   `json:"id"`
	Components map[string]json.RawMessage `json:"components"`
}

type ComponentTypeInfo struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type ScreenshotData struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
}

// Result is the tagged success payload of a response.
type Result struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (r *Result) Entities() ([]EntityData, error) {
	var out []EntityData
	return out, r.decode(ResultEntities, &out)
}

func (r *Result) Entity() (EntityData, error) {
	var out EntityData
	return out, r.decode(ResultEntity, &out)
}

func (r *Result) EntityID() (EntityID, error) {
	var out EntityID
	return out, r.decode(ResultEntityID, &out)
}

func (r *Result) ComponentTypes() ([]ComponentTypeInfo, error) {
	var out []ComponentTypeInfo
	return out, r.decode(ResultComponentTypes, &out)
}

func (r *Result) Screenshot() (ScreenshotData, error) {
	var out ScreenshotData
	return out, r.decode(ResultScreenshot, &out)
}

// Value decodes Data into a generic tree; a missing payload yields nil.
func (r *Result) Value() (any, error) {
	if len(r.Data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
