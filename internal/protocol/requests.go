package protocol

import (
	"encoding/json"

	"debugbridge/internal/apperr"
)

func NewQuery(filter *QueryFilter, limit *int) (Request, error) {
	return NewRequest(MethodQuery, QueryParams{Filter: filter, Limit: limit})
}

func NewGet(entity EntityID, components ...string) (Request, error) {
	return NewRequest(MethodGet, GetParams{Entity: entity, Components: components})
}

func NewSet(entity EntityID, components map[string]any) (Request, error) {
	raw, err := rawComponents(MethodSet, components)
	if err != nil {
		return Request{}, err
	}
	return NewRequest(MethodSet, SetParams{Entity: entity, Components: raw})
}

func NewSpawn(components map[string]any) (Request, error) {
	raw, err := rawComponents(MethodSpawn, components)
	if err != nil {
		return Request{}, err
	}
	return NewRequest(MethodSpawn, SpawnParams{Components: raw})
}

func NewDestroy(entity EntityID) (Request, error) {
	return NewRequest(MethodDestroy, DestroyParams{Entity: entity})
}

func NewListComponents() (Request, error) {
	return NewRequest(MethodListComponents, nil)
}

func NewListEntities(filter *QueryFilter) (Request, error) {
	return NewRequest(MethodListEntities, ListEntitiesParams{Filter: filter})
}

func NewScreenshot(params ScreenshotParams) (Request, error) {
	return NewRequest(MethodScreenshot, params)
}

func rawComponents(method string, components map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(components))
	for id, value := range components {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, apperr.Validation(id, "encode component for %s", method).Wrap(err)
		}
		out[id] = raw
	}
	return out, nil
}
