package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/tools"
)

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	require.NoError(t, r.Register(tools.Tool{
		Spec: llm.ToolSpec{
			Name:        "echo",
			Description: "Echo a value",
			Params: []llm.Param{
				{Name: "value", Type: "string", Required: true},
				{Name: "times", Type: "integer"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			v, err := tools.StringArg(args, "value")
			if err != nil {
				return "", err
			}
			if v == "fail" {
				return "", errors.New("asked to fail")
			}
			return v, nil
		},
	}))
	return r
}

func call(t *testing.T, s *Server, name string, args any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.handle(name)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	content, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return content.Text
}

func TestHandleSuccess(t *testing.T) {
	s := NewServer(echoRegistry(t), "test", nil)

	res := call(t, s, "echo", map[string]any{"value": "hello"})
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", text(t, res))
}

func TestHandleErrors(t *testing.T) {
	s := NewServer(echoRegistry(t), "test", nil)

	res := call(t, s, "echo", map[string]any{"value": "fail"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "asked to fail")

	res = call(t, s, "echo", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "missing required parameter: value")

	res = call(t, s, "echo", "not an object")
	assert.True(t, res.IsError)
	assert.Equal(t, "Invalid arguments type", text(t, res))
}

func TestToMCPTool(t *testing.T) {
	tool := toMCPTool(llm.ToolSpec{
		Name:        "echo",
		Description: "Echo a value",
		Params: []llm.Param{
			{Name: "value", Type: "string", Required: true},
			{Name: "times", Type: "integer"},
			{Name: "loud", Type: "boolean"},
		},
	})

	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, "Echo a value", tool.Description)
	assert.Equal(t, []string{"value"}, tool.InputSchema.Required)
	require.Contains(t, tool.InputSchema.Properties, "times")
	assert.Equal(t, "number", tool.InputSchema.Properties["times"].(map[string]any)["type"])
	assert.Equal(t, "boolean", tool.InputSchema.Properties["loud"].(map[string]any)["type"])
}
