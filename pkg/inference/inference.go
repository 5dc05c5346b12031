package inference

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"

	"chronicles/pkg/schema"
)

// Completer sends an ordered list of turns to a chat completion endpoint and
// returns the assistant reply.
type Completer interface {
	Complete(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn) (string, error)
	// Stream behaves like Complete but calls onDelta with each text fragment as
	// it arrives. The full reply is returned once the stream ends.
	Stream(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn, onDelta func(string) error) (string, error)
}

var (
	ErrNoChoices       = errors.New("no choices returned")
	ErrEmptyCompletion = errors.New("empty completion content")
)

// Defaults are the sampling settings applied when the caller leaves them unset.
type Defaults struct {
	MaxTokens   int64
	Temperature float64
	TopP        float64
}

var DefaultSampling = Defaults{MaxTokens: 800, Temperature: 0.8, TopP: 0.9}

// prepare copies params and fills in the model and any unset sampling values.
func (d Defaults) prepare(params *openai.ChatCompletionNewParams, model string) openai.ChatCompletionNewParams {
	var p openai.ChatCompletionNewParams
	if params != nil {
		p = *params
	}
	if p.Model == "" {
		p.Model = model
	}
	if !p.MaxTokens.Valid() && !p.MaxCompletionTokens.Valid() && d.MaxTokens > 0 {
		p.MaxTokens = openai.Int(d.MaxTokens)
	}
	if !p.Temperature.Valid() {
		p.Temperature = openai.Float(d.Temperature)
	}
	if !p.TopP.Valid() && d.TopP > 0 {
		p.TopP = openai.Float(d.TopP)
	}
	return p
}

// maxTokens reports the effective output limit of prepared params.
func maxTokens(p openai.ChatCompletionNewParams) int64 {
	if p.MaxCompletionTokens.Valid() {
		return p.MaxCompletionTokens.Value
	}
	return p.MaxTokens.Value
}

// IsRateLimited reports whether err came from an upstream 429.
func IsRateLimited(err error) bool {
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode == http.StatusTooManyRequests
	}
	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	var gerrp *genai.APIError
	if errors.As(err, &gerrp) {
		return gerrp.Code == http.StatusTooManyRequests
	}
	return false
}
