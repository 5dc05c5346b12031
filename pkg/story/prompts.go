package story

import (
	"strings"

	"chronicles/pkg/modes"
	"chronicles/pkg/schema"
)

const openingInstruction = `Now begin the story based on this context, welcoming the player and presenting the first situation.`

func systemPrompt(mode modes.Mode, storyContext string) string {
	var sb strings.Builder
	sb.WriteString(mode.SystemPrompt)
	sb.WriteString("\n\nINITIAL CONTEXT PROVIDED BY THE USER:\n")
	sb.WriteString(storyContext)
	sb.WriteString("\n\n")
	sb.WriteString(openingInstruction)
	return sb.String()
}

// rosterBlock renders the known characters as an addendum to the system
// prompt. Empty when there are none.
func rosterBlock(chars []schema.Character) string {
	if len(chars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nKNOWN CHARACTERS (keep their names and identities consistent):")
	for _, ch := range chars {
		sb.WriteString("\n- ")
		sb.WriteString(ch.Name)
		if len(ch.Aliases) > 0 {
			sb.WriteString(" (also known as ")
			sb.WriteString(strings.Join(ch.Aliases, ", "))
			sb.WriteString(")")
		}
	}
	return sb.String()
}

const nameExtractPrompt = `You are a highly accurate and efficient named-entity recognition system. Your task is to extract all character names from the provided interactive story.

**Rules:**
- Identify all unique characters mentioned.
- For each character, provide their canonical name and a list of any aliases, titles or nicknames found in the text.
- Output a single JSON object with a root key "characters".
- The "characters" key should contain an array of objects, where each object has a "name" and an "aliases" field.
- Do not infer or add any information not present in the text.
- Do not include any commentary or markdown. Output only the raw JSON.
- Do not include pronouns, "You", "I" or the narrator as character names.

**Example Output:**
{"characters":[{"name":"Elara","aliases":["the Silver Witch"]},{"name":"Captain Reyes","aliases":["Reyes"]}]}`

const suggestPrompt = `Based on the story so far, suggest between 3 and 5 short actions the player could take next.

**Rules:**
- Each action is a single sentence of at most 12 words, written as the player would type it (e.g., "Search the captain's cabin").
- Actions must fit the current scene and the tone of the story.
- Offer meaningfully different choices.
- Output a single JSON object: {"actions":["...","..."]}. No commentary or markdown.`
