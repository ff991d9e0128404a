package protocol

import (
	"encoding/json"
	"unicode"

	"debugbridge/internal/apperr"
)

// ValidateEntityID rejects the zero entity, which the remote never assigns.
func ValidateEntityID(id EntityID) error {
	if id == 0 {
		return apperr.Validation("entity", "entity id cannot be zero")
	}
	return nil
}

// ValidateComponentTypeID accepts alphanumerics, '_' and ':' (for paths such
// as core::Transform).
func ValidateComponentTypeID(typeID string) error {
	if typeID == "" {
		return apperr.Validation("component", "component type id cannot be empty")
	}
	for _, r := range typeID {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == ':') {
			return apperr.Validation(typeID, "component type id contains invalid characters")
		}
	}
	return nil
}

func validateComponentIDs(ids []string) error {
	for _, id := range ids {
		if err := ValidateComponentTypeID(id); err != nil {
			return err
		}
	}
	return nil
}

func validateComponentKeys(components map[string]json.RawMessage) error {
	for id := range components {
		if err := ValidateComponentTypeID(id); err != nil {
			return err
		}
	}
	return nil
}

func validateFilter(f *QueryFilter) error {
	if f == nil {
		return nil
	}
	if err := validateComponentIDs(f.With); err != nil {
		return err
	}
	if err := validateComponentIDs(f.Without); err != nil {
		return err
	}
	for _, w := range f.Where {
		if err := ValidateComponentTypeID(w.Component); err != nil {
			return err
		}
		if w.Op == "" {
			return apperr.Validation(w.Component, "filter op is required")
		}
	}
	return nil
}

func decodeParams(method string, raw json.RawMessage, out any, required bool) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return false, apperr.Validation(method, "params are required")
		}
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, apperr.Validation(method, "params do not match method shape").Wrap(err)
	}
	return true, nil
}

func validateParams(method string, raw json.RawMessage) error {
	switch method {
	case MethodQuery:
		var p QueryParams
		if ok, err := decodeParams(method, raw, &p, false); err != nil || !ok {
			return err
		}
		if p.Limit != nil && *p.Limit < 0 {
			return apperr.Validation(method, "limit cannot be negative")
		}
		return validateFilter(p.Filter)
	case MethodGet:
		var p GetParams
		if _, err := decodeParams(method, raw, &p, true); err != nil {
			return err
		}
		if err := ValidateEntityID(p.Entity); err != nil {
			return err
		}
		return validateComponentIDs(p.Components)
	case MethodSet:
		var p SetParams
		if _, err := decodeParams(method, raw, &p, true); err != nil {
			return err
		}
		if err := ValidateEntityID(p.Entity); err != nil {
			return err
		}
		if len(p.Components) == 0 {
			return apperr.Validation(method, "at least one component is required")
		}
		return validateComponentKeys(p.Components)
	case MethodSpawn:
		var p SpawnParams
		if _, err := decodeParams(method, raw, &p, true); err != nil {
			return err
		}
		return validateComponentKeys(p.Components)
	case MethodDestroy:
		var p DestroyParams
		if _, err := decodeParams(method, raw, &p, true); err != nil {
			return err
		}
		return ValidateEntityID(p.Entity)
	case MethodListComponents, MethodScreenshot:
		return nil
	case MethodListEntities:
		var p ListEntitiesParams
		if ok, err := decodeParams(method, raw, &p, false); err != nil || !ok {
			return err
		}
		return validateFilter(p.Filter)
	case MethodDebugCommand:
		var p DebugCommandParams
		if _, err := decodeParams(method, raw, &p, true); err != nil {
			return err
		}
		if p.Command == "" {
			return apperr.Validation(method, "debug command name is required")
		}
		return nil
	default:
		return apperr.Validation(method, "unknown method")
	}
}

func (r *Result) decode(want string, out any) error {
	if r.Type != want {
		return apperr.Protocol("result type is %q, want %q", r.Type, want)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return apperr.Protocol("decode %s result", want).Wrap(err)
	}
	return nil
}
