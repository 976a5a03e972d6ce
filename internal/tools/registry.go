// Package tools holds the auxiliary tools a model (or an MCP client) may call
// while working with a generated project: listing and reading its files,
// running its tests and querying the source database.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/llm"
)

var (
	// ErrToolAlreadyRegistered is returned when a name is registered twice
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	// ErrUnknownTool is returned for calls to unregistered tools
	ErrUnknownTool = errors.New("unknown tool")
)

// ExecuteFunc runs a tool and returns its textual result
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable function
type Tool struct {
	Spec    llm.ToolSpec
	Execute ExecuteFunc
}

// Registry holds tools in registration order. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool
func (r *Registry) Register(tool Tool) error {
	if tool.Spec.Name == "" || tool.Execute == nil {
		return fmt.Errorf("invalid tool %q: name and execute function are required", tool.Spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Spec.Name)
	}
	r.tools[tool.Spec.Name] = tool
	r.order = append(r.order, tool.Spec.Name)
	return nil
}

// MustRegister registers a tool and panics on error
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Specs returns the declarations of every tool in registration order
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Call runs the named tool
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := checkRequired(tool.Spec, args); err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}

// Execute answers every call in order. Tool errors are reported to the model
// as the call's output instead of failing the batch.
func (r *Registry) Execute(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		out, err := r.Call(ctx, call.Name, call.Args)
		if err != nil {
			r.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
			out = "Error: " + err.Error()
		} else {
			r.logger.Debug("tool call", zap.String("tool", call.Name), zap.Int("output_bytes", len(out)))
		}
		results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Output: out})
	}
	return results
}

func checkRequired(spec llm.ToolSpec, args map[string]any) error {
	for _, p := range spec.Params {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return fmt.Errorf("missing required parameter: %s", p.Name)
		}
	}
	return nil
}

// StringArg reads a string argument
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %s must be a non-empty string", name)
	}
	return s, nil
}
