package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

var (
	RosterSchema      = generateSchema[Roster]()
	SuggestionsSchema = generateSchema[Suggestions]()
)

func responseFormat(name, description string, schema any) openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      schema,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}

func RosterResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("story_characters", "Named characters extracted from an interactive story", RosterSchema)
}

func SuggestionsResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	return responseFormat("next_actions", "Suggested next player actions for an interactive story", SuggestionsSchema)
}
