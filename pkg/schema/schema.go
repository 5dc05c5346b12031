package schema

import (
	"time"

	"github.com/segmentio/ksuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a story conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with a fresh KSUID and the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        ksuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// WithoutSystem returns the turns a client is allowed to see.
func WithoutSystem(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			continue
		}
		out = append(out, t)
	}
	return out
}

type Character struct {
	Name    string   `json:"name" jsonschema_description:"Canonical character name as used in the story"`
	Aliases []string `json:"aliases" jsonschema_description:"Nicknames, titles or alternative names used for this character"`
}

type Roster struct {
	Characters []Character `json:"characters" jsonschema_description:"Named characters that appear in the story"`
}

type Suggestions struct {
	Actions []string `json:"actions" jsonschema_description:"Three to five short actions the player could take next, written in second person imperative"`
}
