package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"ragchat/internal/config"
)

// VertexGemini generates with a Gemini model on Vertex AI. The model handle is configured once and
// shared read-only between requests.
type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

// NewVertexGemini dials Vertex AI for cfg.Project/cfg.Location using application default credentials.
func NewVertexGemini(ctx context.Context, cfg config.LLMConfig) (*VertexGemini, error) {
	if cfg.Project == "" {
		return nil, errors.New("vertex llm requires llm.project")
	}
	c, err := vertexgenai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	m := c.GenerativeModel(modelName)
	params := ParamsFromConfig(cfg.Generation)
	if params.Temperature != nil {
		m.SetTemperature(float32(*params.Temperature))
	}
	if params.TopP != nil {
		m.SetTopP(float32(*params.TopP))
	}
	if params.MaxTokens != nil {
		m.SetMaxOutputTokens(int32(*params.MaxTokens))
	}
	return &VertexGemini{client: c, model: m}, nil
}

// Close releases the underlying client.
func (v *VertexGemini) Close() error { return v.client.Close() }

// Generate returns the concatenated text of the first candidate.
func (v *VertexGemini) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := v.model.GenerateContent(ctx, toParts(messages)...)
	if err != nil {
		return "", fmt.Errorf("vertex generate: %w", err)
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", errors.New("vertex generate: empty response")
	}
	return sb.String(), nil
}

// Stream emits text parts as the model produces them.
func (v *VertexGemini) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		it := v.model.GenerateContentStream(ctx, toParts(messages)...)
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("vertex stream: %w", err)
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					t, ok := part.(vertexgenai.Text)
					if !ok || t == "" {
						continue
					}
					select {
					case out <- string(t):
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return out, errs
}

// toParts flattens role-tagged messages into text parts; the prompt templates already carry the
// role framing.
func toParts(messages []Message) []vertexgenai.Part {
	parts := make([]vertexgenai.Part, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, vertexgenai.Text(m.Content))
	}
	return parts
}
