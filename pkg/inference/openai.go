package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chronicles/pkg/schema"
)

// OpenAICompatible implements Completer for any endpoint that speaks the
// OpenAI chat completions protocol (OpenAI, Mistral, Grok, Moonshot).
type OpenAICompatible struct {
	client   *openai.Client
	name     string
	model    string
	defaults Defaults
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	defaults   Defaults
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithDefaults(d Defaults) Option {
	return func(o *clientOptions) { o.defaults = d }
}

func buildOptions(opts []Option) clientOptions {
	o := clientOptions{
		timeout:    30 * time.Second,
		maxRetries: 2,
		defaults:   DefaultSampling,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOpenAICompatible creates a client named name (used in logs and errors)
// talking to the configured base URL.
func NewOpenAICompatible(name, apiKey, model string, opts ...Option) *OpenAICompatible {
	o := buildOptions(opts)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(o.maxRetries),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(o.timeout))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAICompatible{
		client:   &client,
		name:     name,
		model:    model,
		defaults: o.defaults,
	}
}

// NewOpenAI creates a client for api.openai.com, or baseURL when set.
func NewOpenAI(apiKey, model string, opts ...Option) *OpenAICompatible {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return NewOpenAICompatible("openai", apiKey, model, opts...)
}

func toMessages(turns []schema.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case schema.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case schema.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	return messages
}

func (o *OpenAICompatible) params(params *openai.ChatCompletionNewParams, turns []schema.Turn) openai.ChatCompletionNewParams {
	p := o.defaults.prepare(params, o.model)
	p.Messages = toMessages(turns)
	return p
}

// Complete sends turns to the chat completion endpoint and returns the reply.
func (o *OpenAICompatible) Complete(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn) (string, error) {
	p := o.params(params, turns)

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%s inference error: %w", o.name, err)
	}
	log.Debug("completion finished", "provider", o.name, "model", p.Model, "turns", len(turns), "took", time.Since(start))
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Stream sends turns with streaming enabled and forwards each content delta.
func (o *OpenAICompatible) Stream(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn, onDelta func(string) error) (string, error) {
	p := o.params(params, turns)

	stream := o.client.Chat.Completions.NewStreaming(ctx, p)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
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
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%s streaming error: %w", o.name, err)
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
