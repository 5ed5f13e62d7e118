package mind

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"mindloop/internal/config"
	"mindloop/internal/logging"
)

const geminiMaxRetries = 3

// GeminiClient implements the judgment-service boundary on the Gemini API.
// Responses are requested as JSON and validated against the named schema
// before they are returned.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini builds a client from configuration.
func NewGemini(ctx context.Context, cfg config.MindConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mind: api key is required (set MINDLOOP_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("mind: create client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout.Std(),
	}, nil
}

// Invoke runs one judgment call. Transport failures are retried with backoff;
// a response that fails schema validation is returned as a *ServiceError and
// never retried (the model already had its instructions).
func (g *GeminiClient) Invoke(ctx context.Context, schema string, contextObj map[string]any) (map[string]any, error) {
	if !KnownSchema(schema) {
		return nil, validationErr(schema, fmt.Errorf("unknown schema"))
	}
	timer := logging.StartTimer(logging.CategoryMind, "invoke "+schema)
	defer timer.Stop()

	prompt, err := buildPrompt(schema, contextObj)
	if err != nil {
		return nil, transportErr(schema, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, transportErr(schema, ctx.Err())
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		result, err := g.client.Models.GenerateContent(ctx, g.model,
			genai.Text(prompt),
			&genai.GenerateContentConfig{
				ResponseMIMEType: "application/json",
			},
		)
		if err != nil {
			lastErr = err
			logging.Get(logging.CategoryMind).Warnw("generate failed",
				"schema", schema, "attempt", attempt+1, "error", err)
			continue
		}
		text := result.Text()
		if strings.TrimSpace(text) == "" {
			lastErr = fmt.Errorf("empty response")
			continue
		}
		var resp map[string]any
		if err := json.Unmarshal([]byte(stripFences(text)), &resp); err != nil {
			return nil, validationErr(schema, fmt.Errorf("response is not a JSON object: %w", err))
		}
		if err := Validate(schema, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, transportErr(schema, lastErr)
}

func buildPrompt(schema string, contextObj map[string]any) (string, error) {
	ctxJSON, err := json.MarshalIndent(contextObj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	var b strings.Builder
	b.WriteString(instructions[schema])
	b.WriteString("\n\nRespond with exactly one JSON object matching this schema (all required fields present, nullable fields explicit):\n")
	b.WriteString(schemaSources[schema])
	b.WriteString("\n\nContext:\n")
	b.Write(ctxJSON)
	return b.String(), nil
}

// stripFences tolerates models that wrap JSON in a markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
