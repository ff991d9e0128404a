package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"debugbridge/internal/apperr"
)

func TestNewRequestAssignsDistinctIDs(t *testing.T) {
	a, err := NewListComponents()
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := NewListComponents()
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.JSONRPC != "2.0" {
		t.Fatalf("unexpected jsonrpc version %q", a.JSONRPC)
	}
}

func TestEncodeRequestWireShape(t *testing.T) {
	req, err := NewGet(42, "core::Transform")
	if err != nil {
		t.Fatalf("new get: %v", err)
	}
	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["method"] != MethodGet {
		t.Fatalf("method = %v", wire["method"])
	}
	params, ok := wire["params"].(map[string]any)
	if !ok {
		t.Fatalf("params missing: %s", data)
	}
	if params["entity"] != float64(42) {
		t.Fatalf("entity = %v", params["entity"])
	}
}

func TestRequestValidationRules(t *testing.T) {
	cases := []struct {
		name   string
		method string
		params string
		ok     bool
	}{
		{"query without params", MethodQuery, "", true},
		{"query with filter", MethodQuery, `{"filter":{"with":["game::Health"]},"limit":5}`, true},
		{"query negative limit", MethodQuery, `{"limit":-1}`, false},
		{"query bad component id", MethodQuery, `{"filter":{"with":["bad id"]}}`, false},
		{"get zero entity", MethodGet, `{"entity":0}`, false},
		{"get missing params", MethodGet, "", false},
		{"get ok", MethodGet, `{"entity":7,"components":["core::Name"]}`, true},
		{"set without components", MethodSet, `{"entity":7,"components":{}}`, false},
		{"set ok", MethodSet, `{"entity":7,"components":{"game::Health":{"value":3}}}`, true},
		{"spawn bad component", MethodSpawn, `{"components":{"a-b":1}}`, false},
		{"destroy ok", MethodDestroy, `{"entity":9}`, true},
		{"destroy wrong shape", MethodDestroy, `{"entity":"nine"}`, false},
		{"list components", MethodListComponents, "", true},
		{"debug command empty", MethodDebugCommand, `{"command":""}`, false},
		{"debug command ok", MethodDebugCommand, `{"command":"stress","args":{"n":1}}`, true},
		{"unknown method", "bevy/teleport", "", false},
	}
	for _, tc := range cases {
		req := Request{JSONRPC: jsonRPCVersion, ID: "r1", Method: tc.method}
		if tc.params != "" {
			req.Params = json.RawMessage(tc.params)
		}
		err := req.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected validation error", tc.name)
			} else if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
			}
		}
	}
}

func TestComponentTypeIDCharset(t *testing.T) {
	for _, id := range []string{"Transform", "bevy_transform::components::Transform", "a1_b2"} {
		if err := ValidateComponentTypeID(id); err != nil {
			t.Errorf("%q: %v", id, err)
		}
	}
	for _, id := range []string{"", "with space", "a.b", "x<T>"} {
		if err := ValidateComponentTypeID(id); err == nil {
			t.Errorf("%q: expected error", id)
		}
	}
}

func TestDecodeResponseRequiresExactlyOneOutcome(t *testing.T) {
	cases := map[string]string{
		"neither":      `{"id":"1"}`,
		"both":         `{"id":"1","result":{"type":"success"},"error":{"code":"timeout","message":"x"}}`,
		"unknown type": `{"id":"1","result":{"type":"teapot"}}`,
		"unknown code": `{"id":"1","error":{"code":"teapot","message":"x"}}`,
		"not json":     `{`,
	}
	for name, body := range cases {
		_, err := DecodeResponse([]byte(body))
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !errors.Is(err, apperr.ErrProtocol) {
			t.Errorf("%s: expected ErrProtocol, got %v", name, err)
		}
	}
}

func TestDecodeResponseTypedAccessors(t *testing.T) {
	resp, err := Success("r1", ResultEntities, []EntityData{{ID: 3, Components: map[string]json.RawMessage{"core::Name": json.RawMessage(`"player"`)}}})
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Err() != nil {
		t.Fatalf("unexpected remote error %v", decoded.Err())
	}
	entities, err := decoded.Result.Entities()
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != 3 {
		t.Fatalf("unexpected entities %+v", entities)
	}
	if _, err := decoded.Result.Screenshot(); !errors.Is(err, apperr.ErrProtocol) {
		t.Fatalf("expected type mismatch to be a protocol error, got %v", err)
	}
}

func TestRemoteErrorSurfacesCode(t *testing.T) {
	data, err := EncodeResponse(Failure("r2", CodeEntityNotFound, "entity 9 does not exist"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var remoteErr *RemoteError
	if !errors.As(resp.Err(), &remoteErr) {
		t.Fatalf("expected *RemoteError, got %T", resp.Err())
	}
	if remoteErr.Code != CodeEntityNotFound || !strings.Contains(remoteErr.Error(), "entity 9") {
		t.Fatalf("unexpected remote error %v", remoteErr)
	}
}

func TestNewSetEncodesComponents(t *testing.T) {
	req, err := NewSet(5, map[string]any{"game::Health": map[string]any{"value": 10}})
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	var params SetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(params.Components["game::Health"]) != `{"value":10}` {
		t.Fatalf("unexpected component payload %s", params.Components["game::Health"])
	}
	if _, err := NewDestroy(0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected zero entity to be rejected, got %v", err)
	}
}
