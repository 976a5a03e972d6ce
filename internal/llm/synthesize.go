package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultAttempts bounds structured-output retries
const DefaultAttempts = 3

// ErrSynthesisValidationFailed is returned when every attempt produced output
// that did not validate
var ErrSynthesisValidationFailed = errors.New("synthesis output failed validation")

// Validator is implemented by structured output shapes
type Validator interface {
	Validate() error
}

// ValidationError marks model output that could not be decoded or validated.
// Only this error is retried.
type ValidationError struct {
	Shape string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s output: %v", e.Shape, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Retry calls fn up to attempts times, retrying only when fn returns a
// *ValidationError. Any other error is returned immediately. Exhaustion wraps
// the last validation error in ErrSynthesisValidationFailed.
func Retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrSynthesisValidationFailed, attempts, lastErr)
}

// Synthesize asks the client for a JSON document, decodes it into T and
// validates it, retrying invalid output up to attempts times. Each retry
// tells the model what was wrong with its previous answer.
func Synthesize[T any, P interface {
	*T
	Validator
}](ctx context.Context, client Client, req Request, attempts int) (T, error) {
	var result T
	shape := shapeName(P(&result))

	req.JSON = true
	messages := append([]Message(nil), req.Messages...)

	err := Retry(ctx, attempts, func(attempt int) error {
		req.Messages = messages
		resp, err := client.Generate(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to generate %s: %w", shape, err)
		}

		var candidate T
		decodeErr := DecodeJSON(resp.Text, &candidate)
		if decodeErr == nil {
			decodeErr = P(&candidate).Validate()
		}
		if decodeErr != nil {
			messages = append(messages,
				Message{Role: RoleModel, Text: resp.Text},
				UserMessage(fmt.Sprintf("The previous answer was rejected: %v. Reply again with corrected JSON only.", decodeErr)),
			)
			return &ValidationError{Shape: shape, Err: decodeErr}
		}

		result = candidate
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// DecodeJSON unmarshals model output, tolerating a surrounding markdown code fence
func DecodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return errors.New("empty output")
	}
	return json.Unmarshal([]byte(text), v)
}

func shapeName(v any) string {
	name := fmt.Sprintf("%T", v)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}
