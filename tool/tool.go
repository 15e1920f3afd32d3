// Package tool implements the function / tool calling subsystem that lets
// model invocations execute structured server-side capabilities (APIs,
// computations, side effects) with schema validated arguments and consistent
// error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/andyjessop/workerkit/internal/util"
	"github.com/andyjessop/workerkit/logging"
)

// Tool defines the interface for server-side executable capabilities that a
// model invocation may request mid-conversation.
//
// Tools are registered with an AI binding per request. When the model emits a
// function call, the host matches the call by name, validates the supplied
// arguments against the declared schema, executes the tool and feeds the
// result back into the conversation before the model produces its terminal
// answer.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the model to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for argument validation and model function calling.
	Parameters() map[string]interface{}

	// Call executes the tool with structured arguments and a Context carrying
	// the request scope, logger and function call identifier. Arguments are
	// parsed from JSON and validated against the tool's schema before Call runs.
	Call(toolCtx *Context, args map[string]interface{}) (interface{}, error)
}

// Context carries per-invocation scope into a tool execution: the request
// context for cancellation, a structured logger and the function call
// identifier correlating the model's request with the tool's response.
type Context struct {
	ctx    context.Context
	logger logging.Logger
	callID string
}

// NewContext constructs a tool execution context.
func NewContext(ctx context.Context, logger logging.Logger, callID string) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{ctx: ctx, logger: logger, callID: callID}
}

// Context returns the request context for cancellation propagation.
func (c *Context) Context() context.Context { return c.ctx }

// Logger returns the structured logger scoped to this invocation.
func (c *Context) Logger() logging.Logger { return c.logger }

// FunctionCallID returns the identifier of the originating function call.
func (c *Context) FunctionCallID() string { return c.callID }

// ValidationError represents argument validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
