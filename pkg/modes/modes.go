package modes

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const DefaultID = "adventure"

const descriptionRunes = 100

// Mode is a named system-prompt preset chosen when a story starts.
type Mode struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Summary is the public listing of a mode.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (m Mode) Summary() Summary {
	return Summary{
		ID:          m.ID,
		Name:        m.Name,
		Description: describe(m.SystemPrompt),
	}
}

func describe(prompt string) string {
	if utf8.RuneCountInString(prompt) <= descriptionRunes {
		return prompt + "..."
	}
	return string([]rune(prompt)[:descriptionRunes]) + "..."
}

type Registry struct {
	mu    sync.RWMutex
	order []string
	modes map[string]Mode
}

// NewRegistry returns a registry holding the built-in presets.
func NewRegistry() *Registry {
	r := &Registry{modes: make(map[string]Mode, len(builtin))}
	for _, m := range builtin {
		r.Register(m)
	}
	return r
}

// Register adds a mode or replaces the one sharing its id, keeping its position.
func (r *Registry) Register(m Mode) {
	m.ID = normalizeID(m.ID)
	if m.Name == "" {
		m.Name = m.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modes[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.modes[m.ID] = m
}

func (r *Registry) Lookup(id string) (Mode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modes[normalizeID(id)]
	return m, ok
}

// Resolve returns the requested mode, falling back to the default preset.
func (r *Registry) Resolve(id string) Mode {
	if m, ok := r.Lookup(id); ok {
		return m
	}
	m, _ := r.Lookup(DefaultID)
	return m
}

func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modes[id].Summary())
	}
	return out
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

var builtin = []Mode{
	{
		ID:   "adventure",
		Name: "🎮 Adventure Mode",
		SystemPrompt: `You are a role-playing game master who specialises in epic adventures. Create thrilling narratives with:
- Dangerous quests and rewards
- Strategic combat
- Exploration of fantastic worlds
- Memorable NPCs with unique personalities
- Choices that change the story

Keep the story coherent and remember every earlier event.`,
	},
	{
		ID:   "romance",
		Name: "💖 Romance Mode",
		SystemPrompt: `You are a writer who specialises in interactive romance. Create:
- Deep, developing relationships
- Moving and romantic dialogue
- Meaningful emotional conflicts
- Moments of intimacy and connection
- Complex, captivating characters

Build relationships organically from the choices the user makes.`,
	},
	{
		ID:   "horror",
		Name: "👻 Horror Mode",
		SystemPrompt: `You are a master of horror and suspense. Create:
- A tense, frightening atmosphere
- Well-built psychological scares
- Supernatural mysteries
- Life-or-death decisions
- Claustrophobic, oppressive settings

Use fear of the unknown and keep the tension constant.`,
	},
	{
		ID:   "fantasy",
		Name: "🐉 Epic Fantasy Mode",
		SystemPrompt: `You are a fantasy storyteller. Create:
- Detailed magical worlds
- Mythological creatures and unique races
- Complex magic systems
- Prophecies and destinies
- Epic battles and heroic journeys

Develop rich lore and stories that connect with each other.`,
	},
	{
		ID:   "scifi",
		Name: "🚀 Science Fiction Mode",
		SystemPrompt: `You are a science fiction writer. Create:
- Advanced technologies and their consequences
- Futuristic societies and dystopias
- Space exploration and aliens
- Ethical dilemmas of technology
- Consistent scientific universes

Keep the science plausible within the universe.`,
	},
}
