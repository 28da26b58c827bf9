package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolRunner executes a named tool against a JSON argument blob and returns
// a JSON-encoded string result. The result is always well-formed JSON:
// success shaped as {"ok":true,...} and failure as {"ok":false,"error",...}.
//
// A ToolRunner never fails the turn on a tool rejection; rejections are
// encoded into the result string so the model can see and react to them
// within the same turn. A non-nil error is reserved for context
// cancellation and infrastructure failures.
type ToolRunner interface {
	RunTool(ctx context.Context, name string, argsJSON string) (string, error)
}

// ToolRunnerFunc adapts a function to a ToolRunner.
type ToolRunnerFunc func(ctx context.Context, name string, argsJSON string) (string, error)

// RunTool executes the tool runner function.
func (f ToolRunnerFunc) RunTool(ctx context.Context, name string, argsJSON string) (string, error) {
	return f(ctx, name, argsJSON)
}

// ToolErrorType categorizes tool rejections.
type ToolErrorType string

const (
	// ToolErrorUnauthorized indicates the tool is not in the job's
	// permitted set.
	ToolErrorUnauthorized ToolErrorType = "unauthorized"

	// ToolErrorNotFound indicates no implementation is registered.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates the argument blob was rejected.
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorExecution indicates the underlying effect failed.
	ToolErrorExecution ToolErrorType = "execution"
)

// ToolError is the typed form of a tool rejection. It crosses the tool
// boundary only as an encoded wire string; internal code works with the
// typed value.
type ToolError struct {
	Type   ToolErrorType
	Tool   string
	Detail string
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Type, e.Detail)
}

// toolWireResult is the wire shape shared by success and failure results.
type toolWireResult struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// EncodeToolResult wraps a successful tool payload as an {ok:true} string.
// A payload that is not valid JSON is embedded as a JSON string.
func EncodeToolResult(payload string) string {
	wire := toolWireResult{OK: true}
	if json.Valid([]byte(payload)) {
		wire.Result = json.RawMessage(payload)
	} else {
		quoted, _ := json.Marshal(payload)
		wire.Result = quoted
	}
	data, _ := json.Marshal(wire)
	return string(data)
}

// EncodeToolError converts a typed rejection to its {ok:false} wire string.
func EncodeToolError(err *ToolError) string {
	wire := toolWireResult{
		OK:     false,
		Error:  string(err.Type),
		Detail: err.Detail,
	}
	data, _ := json.Marshal(wire)
	return string(data)
}
