package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GenAIClient generates content with Google's Gemini API
type GenAIClient struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewGenAIClient creates a Gemini-backed client
func NewGenAIClient(ctx context.Context, apiKey, model string, temperature float32, logger *zap.Logger) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// Generate sends the conversation to the model
func (c *GenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toolDeclarations(req.Tools)}}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, toContents(req.Messages), config)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	resp := &Response{Text: result.Text()}
	for _, call := range result.FunctionCalls() {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
	}

	if usage := result.UsageMetadata; usage != nil {
		c.logger.Debug("generation finished",
			zap.String("model", c.model),
			zap.Int32("prompt_tokens", usage.PromptTokenCount),
			zap.Int32("output_tokens", usage.CandidatesTokenCount),
			zap.Int("tool_calls", len(resp.ToolCalls)))
	}

	return resp, nil
}

func toContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, call := range m.ToolCalls {
			part := genai.NewPartFromFunctionCall(call.Name, call.Args)
			part.FunctionCall.ID = call.ID
			parts = append(parts, part)
		}
		for _, res := range m.ToolResults {
			part := genai.NewPartFromFunctionResponse(res.Name, map[string]any{"output": res.Output})
			part.FunctionResponse.ID = res.CallID
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

func toolDeclarations(tools []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(tool.Params)),
		}
		for _, p := range tool.Params {
			params.Properties[p.Name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
