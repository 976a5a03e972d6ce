package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned responses in order
type scriptedClient struct {
	responses []string
	err       error
	requests  []Request
}

func (c *scriptedClient) Generate(_ context.Context, req Request) (*Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	i := len(c.requests) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return &Response{Text: c.responses[i]}, nil
}

func TestSynthesizeValidOnFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"resource_file_name": "users.py", "resource_code": "class Users: pass", "api_route": [{"uri": "/users", "resource_object": "UsersResource()"}]}`,
	}}

	res, err := Synthesize[Resource](context.Background(), client, Request{Messages: []Message{UserMessage("generate")}}, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, "users.py", res.ResourceFileName)
	assert.Len(t, client.requests, 1)
	assert.True(t, client.requests[0].JSON)
}

func TestSynthesizeRetriesInvalidOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`not json`,
		`{"new_code": "x = 1", "code_type": "database"}`,
		"```json\n{\"new_code\": \"x = 1\", \"code_type\": \"test\", \"what_was_the_problem\": \"p\", \"what_is_fixed\": \"f\"}\n```",
	}}

	rev, err := Synthesize[Revision](context.Background(), client, Request{Messages: []Message{UserMessage("fix")}}, DefaultAttempts)
	require.NoError(t, err)
	assert.Equal(t, TargetTest, rev.CodeType)
	require.Len(t, client.requests, 3)

	// Each retry carries the rejected answer and the reason
	assert.Len(t, client.requests[0].Messages, 1)
	assert.Len(t, client.requests[1].Messages, 3)
	assert.Len(t, client.requests[2].Messages, 5)
	assert.Equal(t, RoleModel, client.requests[1].Messages[1].Role)
}

func TestSynthesizeExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"md_content": ""}`}}

	_, err := Synthesize[Readme](context.Background(), client, Request{}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesisValidationFailed)
	assert.Len(t, client.requests, 3)
}

func TestSynthesizeDoesNotRetryTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	client := &scriptedClient{err: boom}

	_, err := Synthesize[Classification](context.Background(), client, Request{}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrSynthesisValidationFailed)
	assert.Len(t, client.requests, 1)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 3, func(int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestShapeValidation(t *testing.T) {
	tests := []struct {
		name    string
		shape   Validator
		wantErr bool
	}{
		{"classification ok", &Classification{Category: IntentCreateCRUD}, false},
		{"classification unknown", &Classification{Category: "delete_everything"}, true},
		{"selection empty", &SchemaSelection{}, true},
		{"selection duplicate", &SchemaSelection{Tables: []SelectedTable{{TableName: "a"}, {TableName: "a"}}}, true},
		{"selection ok", &SchemaSelection{Tables: []SelectedTable{{TableName: "a"}, {TableName: "b"}}}, false},
		{"resource path in name", &Resource{ResourceFileName: "../users.py", ResourceCode: "x", APIRoutes: []RouteSpec{{URI: "/u", ResourceObject: "U()"}}}, true},
		{"resource no routes", &Resource{ResourceFileName: "users.py", ResourceCode: "x"}, true},
		{"test no cases", &GeneratedTest{FullTestCode: "def test(): pass"}, true},
		{"test ok", &GeneratedTest{FullTestCode: "def test(): pass", TestCaseCount: 1}, false},
		{"revision api", &Revision{NewCode: "x", CodeType: TargetAPI}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.shape.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
