package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"debugbridge/internal/apperr"

	"github.com/google/uuid"
)

const jsonRPCVersion = "2.0"

// Request is one call to the remote process.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either a tagged Result or a RemoteError, never both.
type Response struct {
	JSONRPC string       `json:"jsonrpc,omitempty"`
	ID      string       `json:"id,omitempty"`
	Result  *Result      `json:"result,omitempty"`
	Error   *RemoteError `json:"error,omitempty"`
}

// RemoteError is an error reported by the remote process itself.
type RemoteError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// NewRequest builds a request with a fresh id. params may be nil for
// parameterless methods.
func NewRequest(method string, params any) (Request, error) {
	req := Request{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, apperr.Validation(method, "encode params").Wrap(err)
		}
		req.Params = raw
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func NewDebugCommand(command string, args map[string]any) (Request, error) {
	return NewRequest(MethodDebugCommand, DebugCommandParams{Command: command, Args: args})
}

func (r Request) ValidateBasic() error {
	if strings.TrimSpace(r.ID) == "" {
		return apperr.Validation("id", "request id is required")
	}
	if strings.TrimSpace(r.Method) == "" {
		return apperr.Validation("method", "method is required")
	}
	return nil
}

// Validate checks the envelope and the method-specific params shape.
func (r Request) Validate() error {
	if err := r.ValidateBasic(); err != nil {
		return err
	}
	return validateParams(r.Method, r.Params)
}

// Err returns the remote error carried by the response, if any.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

func (r *Response) ValidateBasic() error {
	switch {
	case r.Result == nil && r.Error == nil:
		return apperr.Protocol("response has neither result nor error")
	case r.Result != nil && r.Error != nil:
		return apperr.Protocol("response has both result and error")
	case r.Result != nil && !knownResultTypes[r.Result.Type]:
		return apperr.Protocol("unknown result type %q", r.Result.Type)
	case r.Error != nil && !knownErrorCodes[r.Error.Code]:
		return apperr.Protocol("unknown error code %q", r.Error.Code)
	}
	return nil
}

func EncodeRequest(req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(req)
}

func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperr.Protocol("decode request").Wrap(err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	if err := resp.ValidateBasic(); err != nil {
		return nil, err
	}
	if resp.JSONRPC == "" {
		resp.JSONRPC = jsonRPCVersion
	}
	return json.Marshal(resp)
}

func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperr.Protocol("decode response").Wrap(err)
	}
	if err := resp.ValidateBasic(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Success builds a success response for id.
func Success(id, resultType string, data any) (Response, error) {
	resp := Response{JSONRPC: jsonRPCVersion, ID: id, Result: &Result{Type: resultType}}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, fmt.Errorf("encode result: %w", err)
		}
		resp.Result.Data = raw
	}
	return resp, nil
}

// Failure builds an error response for id.
func Failure(id, code, message string) Response {
	return Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RemoteError{Code: code, Message: message},
	}
}
