package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"

	"chronicles/pkg/schema"
)

type Gemini struct {
	client   *genai.Client
	model    string
	defaults Defaults
}

// NewGemini creates a Completer backed by the Gemini API. Only the request
// timeout, http client and defaults options apply.
func NewGemini(ctx context.Context, apiKey, model string, opts ...Option) (*Gemini, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	o := buildOptions(opts)
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.timeout > 0 {
		cc.HTTPOptions.Timeout = genai.Ptr(o.timeout)
	}
	if o.baseURL != "" {
		cc.HTTPOptions.BaseURL = o.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, defaults: o.defaults}, nil
}

// request converts turns into Gemini contents. System turns are merged into
// the system instruction and assistant turns take the model role.
func (g *Gemini) request(params *openai.ChatCompletionNewParams, turns []schema.Turn) (string, []*genai.Content, *genai.GenerateContentConfig) {
	p := g.defaults.prepare(params, g.model)

	var system []string
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case schema.RoleSystem:
			system = append(system, t.Content)
		case schema.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		// Gemini rejects a request without contents.
		contents = genai.Text("Begin.")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.Temperature.Value)),
		MaxOutputTokens: int32(maxTokens(p)),
	}
	if p.TopP.Valid() {
		config.TopP = genai.Ptr(float32(p.TopP.Value))
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if js := p.ResponseFormat.OfJSONSchema; js != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = js.JSONSchema.Schema
	}
	return p.Model, contents, config
}

func (g *Gemini) Complete(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn) (string, error) {
	model, contents, config := g.request(params, turns)
	result, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini inference error: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", ErrNoChoices
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (g *Gemini) Stream(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn, onDelta func(string) error) (string, error) {
	model, contents, config := g.request(params, turns)

	var sb strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return "", fmt.Errorf("gemini streaming error: %w", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
