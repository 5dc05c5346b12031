package inference

const (
	MistralBaseURL  = "https://api.mistral.ai/v1"
	GrokBaseURL     = "https://api.x.ai/v1"
	MoonshotBaseURL = "https://api.moonshot.ai/v1"
)

// NewMistral creates a client for Mistral's OpenAI-compatible chat endpoint.
func NewMistral(apiKey, model string, opts ...Option) *OpenAICompatible {
	if model == "" {
		model = "mistral-small-latest"
	}
	return NewOpenAICompatible("mistral", apiKey, model, append([]Option{WithBaseURL(MistralBaseURL)}, opts...)...)
}

func NewGrok(apiKey, model string, opts ...Option) *OpenAICompatible {
	if model == "" {
		model = "grok-4-fast-non-reasoning"
	}
	return NewOpenAICompatible("grok", apiKey, model, append([]Option{WithBaseURL(GrokBaseURL)}, opts...)...)
}

// NewMoonshot creates a client for the Moonshot AI (Kimi) API.
func NewMoonshot(apiKey, model string, opts ...Option) *OpenAICompatible {
	if model == "" {
		model = "kimi-k2-0905-preview"
	}
	return NewOpenAICompatible("moonshot", apiKey, model, append([]Option{WithBaseURL(MoonshotBaseURL)}, opts...)...)
}
