package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"chronicles/pkg/schema"
	"chronicles/pkg/utils"
)

const (
	minSuggestions = 3
	maxSuggestions = 5
)

var ErrNoSuggestions = errors.New("no usable suggestions in model output")

// errStaleStory means a new turn landed between reading the session and
// generating for it. Nothing is cached for the old state.
var errStaleStory = errors.New("story moved on")

// suggestKey identifies a story state. Any new turn changes it.
type suggestKey struct {
	UserID   string
	Turns    int
	LastTurn string
}

func keyFor(userID string, turns []schema.Turn) suggestKey {
	k := suggestKey{UserID: userID, Turns: len(turns)}
	if len(turns) > 0 {
		k.LastTurn = turns[len(turns)-1].ID
	}
	return k
}

// Suggest returns quick next actions for the user's story. Concurrent calls
// for the same story state share one generation and the result is reused
// until the story moves on.
func (s *Service) Suggest(ctx context.Context, userID string) ([]string, error) {
	for {
		sess, err := s.Session(userID)
		if err != nil {
			return nil, err
		}

		actions, err := s.awaitSuggestions(ctx, keyFor(sess.UserID, sess.Turns))
		if errors.Is(err, errStaleStory) {
			continue
		}
		return actions, err
	}
}

func (s *Service) awaitSuggestions(ctx context.Context, k suggestKey) ([]string, error) {
	type result struct {
		actions []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		actions, err := s.suggestions.Get(k)
		done <- result{actions, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return append([]string(nil), r.actions...), nil
	}
}

// generateSuggestions runs detached from any single request because its result
// is shared by every caller waiting on the same key.
func (s *Service) generateSuggestions(k suggestKey) ([]string, error) {
	sess, ok := s.store.Get(k.UserID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if keyFor(sess.UserID, sess.Turns) != k {
		log.Debug("story moved on while suggestions were queued", "userId", k.UserID)
		return nil, errStaleStory
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.backgroundTimeout)
	defer cancel()

	turns := append(s.prompt(sess), schema.NewTurn(schema.RoleUser, suggestPrompt))
	params := &openai.ChatCompletionNewParams{
		ResponseFormat: schema.SuggestionsResponseFormat(),
	}
	out, err := s.llm.Complete(ctx, params, turns)
	if err != nil {
		return nil, &CompletionError{Op: "suggest actions", Err: err}
	}

	actions, err := parseSuggestions(out)
	if err != nil {
		log.Warn("unusable suggestions", "userId", k.UserID, "error", err, "output", utils.LimitStr(out, 200))
		return nil, err
	}
	return actions, nil
}

func parseSuggestions(out string) ([]string, error) {
	var parsed schema.Suggestions
	if err := json.Unmarshal([]byte(utils.CleanJSON(out)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSuggestions, err)
	}

	seen := make(map[string]struct{}, len(parsed.Actions))
	actions := make([]string, 0, len(parsed.Actions))
	for _, a := range parsed.Actions {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		actions = append(actions, a)
		if len(actions) == maxSuggestions {
			break
		}
	}
	if len(actions) < minSuggestions {
		return nil, fmt.Errorf("%w: got %d actions, want at least %d", ErrNoSuggestions, len(actions), minSuggestions)
	}
	return actions, nil
}

func (s *Service) forgetSuggestions(userID string) {
	s.suggestions.ForgetFunc(func(k suggestKey) bool { return k.UserID == userID })
}
