package story

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"chronicles/pkg/schema"
	"chronicles/pkg/session"
	"chronicles/pkg/utils"
)

// chunkRunes bounds the story text sent per extraction request.
const chunkRunes = 8192 * 4

// Characters returns the roster stored with the user's session.
func (s *Service) Characters(userID string) ([]schema.Character, error) {
	sess, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	if sess.Characters == nil {
		return []schema.Character{}, nil
	}
	return sess.Characters, nil
}

// SetCharacters replaces the roster. Names are trimmed and merged
// case-insensitively; entries without a name are dropped.
func (s *Service) SetCharacters(userID string, chars []schema.Character) ([]schema.Character, error) {
	userID = strings.TrimSpace(userID)
	unlock := s.store.Lock(userID)
	defer unlock()

	updated, err := s.store.Update(userID, func(sess *session.Session) error {
		sess.Characters = mergeCharacters(nil, chars)
		return nil
	})
	if err != nil {
		return nil, ErrSessionNotFound
	}
	s.forgetSuggestions(userID)
	return updated.Characters, nil
}

// ExtractCharacters asks the model for the named characters in the story and
// merges them into the stored roster. Chunks the model cannot handle fall back
// to a local capitalised-name heuristic.
func (s *Service) ExtractCharacters(ctx context.Context, userID string) ([]schema.Character, error) {
	userID = strings.TrimSpace(userID)
	unlock := s.store.Lock(userID)
	defer unlock()

	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	var extracted []schema.Character
	for i, chunk := range utils.ChunkText(storyText(sess), chunkRunes) {
		found, err := s.extractChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("character extraction fell back to heuristic", "userId", userID, "chunk", i+1, "error", err)
			found = heuristicCharacters(chunk)
		}
		extracted = mergeCharacters(extracted, found)
	}

	updated, err := s.store.Update(userID, func(stored *session.Session) error {
		stored.Characters = mergeCharacters(stored.Characters, extracted)
		return nil
	})
	if err != nil {
		return nil, ErrSessionNotFound
	}
	s.forgetSuggestions(userID)
	log.Info("extracted characters", "userId", userID, "found", len(extracted), "count", len(updated.Characters))
	return updated.Characters, nil
}

func (s *Service) extractChunk(ctx context.Context, chunk string) ([]schema.Character, error) {
	params := &openai.ChatCompletionNewParams{
		Temperature:    openai.Float(0),
		ResponseFormat: schema.RosterResponseFormat(),
	}
	out, err := s.llm.Complete(ctx, params, []schema.Turn{
		schema.NewTurn(schema.RoleSystem, nameExtractPrompt),
		schema.NewTurn(schema.RoleUser, chunk),
	})
	if err != nil {
		return nil, err
	}

	var roster schema.Roster
	if err := json.Unmarshal([]byte(utils.CleanJSON(out)), &roster); err != nil {
		return nil, err
	}
	if len(roster.Characters) == 0 {
		return nil, errEmptyRoster
	}
	return roster.Characters, nil
}

var errEmptyRoster = errors.New("model returned no characters")

func storyText(sess *session.Session) string {
	parts := []string{sess.Context}
	for _, t := range sess.History() {
		parts = append(parts, t.Content)
	}
	return strings.Join(parts, "\n\n")
}

// mergeCharacters merges updates into base by name (case-insensitive), taking
// the union of trimmed aliases. Base order is preserved and new names are
// appended.
func mergeCharacters(base, updates []schema.Character) []schema.Character {
	key := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	out := make([]schema.Character, 0, len(base)+len(updates))
	idx := make(map[string]int, len(base)+len(updates))
	add := func(ch schema.Character) {
		name := strings.TrimSpace(ch.Name)
		k := key(name)
		if k == "" {
			return
		}
		i, ok := idx[k]
		if !ok {
			out = append(out, schema.Character{Name: name, Aliases: []string{}})
			i = len(out) - 1
			idx[k] = i
		}
		for _, a := range ch.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.EqualFold(a, out[i].Name) {
				continue
			}
			if slices.ContainsFunc(out[i].Aliases, func(b string) bool { return strings.EqualFold(a, b) }) {
				continue
			}
			out[i].Aliases = append(out[i].Aliases, a)
		}
	}
	for _, ch := range base {
		add(ch)
	}
	for _, ch := range updates {
		add(ch)
	}
	return out
}

var nameRX = regexp.MustCompile(`\b[[:upper:]][[:lower:]]+(?:\s+[[:upper:]][[:lower:]]+){0,2}\b`)

// words that are capitalised at the start of a sentence far more often than
// they are names
var notNames = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "you": {}, "your": {}, "she": {}, "her": {}, "his": {},
	"they": {}, "their": {}, "then": {}, "there": {}, "this": {}, "that": {}, "what": {},
	"when": {}, "where": {}, "with": {}, "while": {}, "suddenly": {}, "now": {}, "its": {},
	"as": {}, "it": {}, "he": {}, "we": {}, "our": {}, "after": {}, "before": {}, "how": {},
}

// heuristicCharacters is a conservative local fallback: capitalised word runs
// seen at least twice, most frequent first.
func heuristicCharacters(text string) []schema.Character {
	counts := map[string]int{}
	for _, m := range nameRX.FindAllString(text, -1) {
		if len(m) < 3 {
			continue
		}
		if _, skip := notNames[strings.ToLower(strings.Fields(m)[0])]; skip {
			continue
		}
		counts[m]++
	}

	type kv struct {
		name  string
		count int
	}
	var arr []kv
	for k, v := range counts {
		if v >= 2 {
			arr = append(arr, kv{k, v})
		}
	}
	slices.SortFunc(arr, func(a, b kv) int {
		if a.count != b.count {
			return b.count - a.count
		}
		return strings.Compare(a.name, b.name)
	})

	out := make([]schema.Character, 0, len(arr))
	for _, it := range arr {
		out = append(out, schema.Character{Name: it.name})
	}
	return out
}
