package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

// Gemini streams from the Gemini API using an API key.
type Gemini struct {
	APIKey      string
	Model       string
	Temperature float64
}

func (g *Gemini) Stream(ctx context.Context, req Request, onDelta DeltaFunc) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}

	temp := float32(g.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	for res, err := range client.Models.GenerateContentStream(ctx, g.Model, contents, cfg) {
		if err != nil {
			return geminiError(err)
		}
		if text := res.Text(); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func geminiRole(role string) genai.Role {
	if role == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// geminiError maps API failures onto UpstreamError; transport errors such as
// cancellation pass through wrapped.
func geminiError(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("gemini stream: %w", err)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Status
	}
	return &apperr.UpstreamError{Service: "llm", StatusCode: apiErr.Code, Message: msg}
}
