package story

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicles/pkg/modes"
	"chronicles/pkg/schema"
	"chronicles/pkg/session"
)

type call struct {
	params *openai.ChatCompletionNewParams
	turns  []schema.Turn
}

// fakeLLM answers with reply(turns) and records every request. A non-nil
// streamErr cuts Stream off after its first delta.
type fakeLLM struct {
	mu        sync.Mutex
	calls     []call
	reply     func(turns []schema.Turn) (string, error)
	streamErr error
}

func (f *fakeLLM) Complete(_ context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{params: params, turns: append([]schema.Turn(nil), turns...)})
	reply := f.reply
	f.mu.Unlock()
	return reply(turns)
}

func (f *fakeLLM) Stream(ctx context.Context, params *openai.ChatCompletionNewParams, turns []schema.Turn, onDelta func(string) error) (string, error) {
	out, err := f.Complete(ctx, params, turns)
	if err != nil {
		return "", err
	}
	for _, w := range strings.SplitAfter(out, " ") {
		if err := onDelta(w); err != nil {
			return "", err
		}
		if f.streamErr != nil {
			return "", f.streamErr
		}
	}
	return out, nil
}

func (f *fakeLLM) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func echoLLM() *fakeLLM {
	n := 0
	return &fakeLLM{reply: func([]schema.Turn) (string, error) {
		n++
		return "reply " + string(rune('0'+n)), nil
	}}
}

func newService(llm *fakeLLM) (*Service, *session.Store) {
	store := session.NewStore(session.Options{})
	svc := NewService(store, modes.NewRegistry(), llm, Options{HistoryWindow: 10})
	return svc, store
}

func TestStartValidatesInput(t *testing.T) {
	svc, _ := newService(echoLLM())
	_, err := svc.Start(context.Background(), "", "a castle", "")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualError(t, err, "userId and context are required")

	_, err = svc.Start(context.Background(), "u1", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartBuildsSystemTurnAndStoresReply(t *testing.T) {
	llm := echoLLM()
	svc, store := newService(llm)

	r, err := svc.Start(context.Background(), "u1", "A lighthouse keeper hears knocking.", "horror")
	require.NoError(t, err)
	assert.Equal(t, "reply 1", r.Message)

	sent := llm.last().turns
	require.Len(t, sent, 1)
	assert.Equal(t, schema.RoleSystem, sent[0].Role)
	assert.True(t, strings.HasPrefix(sent[0].Content, svc.modes.Resolve("horror").SystemPrompt))
	assert.Contains(t, sent[0].Content, "INITIAL CONTEXT PROVIDED BY THE USER:\nA lighthouse keeper hears knocking.")
	assert.Contains(t, sent[0].Content, openingInstruction)

	sess, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "horror", sess.Mode.ID)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, schema.RoleAssistant, sess.Turns[1].Role)
	assert.Len(t, sess.History(), 1)
}

func TestStartUnknownModeFallsBack(t *testing.T) {
	svc, _ := newService(echoLLM())
	r, err := svc.Start(context.Background(), "u1", "ctx", "western")
	require.NoError(t, err)
	assert.Equal(t, modes.DefaultID, r.Session.Mode.ID)
}

func TestStartFailureKeepsPreviousSession(t *testing.T) {
	llm := echoLLM()
	svc, store := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "first story", "fantasy")
	require.NoError(t, err)

	boom := errors.New("upstream down")
	llm.reply = func([]schema.Turn) (string, error) { return "", boom }
	_, err = svc.Start(context.Background(), "u1", "second story", "scifi")
	require.ErrorIs(t, err, boom)
	var cerr *CompletionError
	assert.ErrorAs(t, err, &cerr)

	sess, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "first story", sess.Context)
	assert.Equal(t, "fantasy", sess.Mode.ID)
}

func TestContinueAppendsBothTurns(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	r, err := svc.Continue(context.Background(), "u1", "I draw my sword")
	require.NoError(t, err)
	assert.Equal(t, "reply 2", r.Message)

	hist := r.Session.History()
	require.Len(t, hist, 3)
	assert.Equal(t, schema.RoleUser, hist[1].Role)
	assert.Equal(t, "I draw my sword", hist[1].Content)
	assert.Equal(t, "reply 2", hist[2].Content)

	sent := llm.last().turns
	assert.Equal(t, schema.RoleSystem, sent[0].Role)
	assert.Equal(t, "I draw my sword", sent[len(sent)-1].Content)
}

func TestContinueErrors(t *testing.T) {
	llm := echoLLM()
	svc, store := newService(llm)

	_, err := svc.Continue(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Continue(context.Background(), "ghost", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)
	llm.reply = func([]schema.Turn) (string, error) { return "", errors.New("timeout") }
	_, err = svc.Continue(context.Background(), "u1", "hello")
	require.Error(t, err)

	sess, _ := store.Get("u1")
	assert.Len(t, sess.Turns, 2, "failed turn must not be committed")
}

func TestContinueKeepsSystemPromptInLongStories(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	for range 8 {
		_, err := svc.Continue(context.Background(), "u1", "go on")
		require.NoError(t, err)
	}

	sent := llm.last().turns
	assert.Len(t, sent, 10)
	assert.Equal(t, schema.RoleSystem, sent[0].Role)
	assert.Equal(t, schema.RoleUser, sent[len(sent)-1].Role)
}

func TestContinueStream(t *testing.T) {
	llm := &fakeLLM{reply: func([]schema.Turn) (string, error) { return "the gate opens", nil }}
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	var got []string
	r, err := svc.ContinueStream(context.Background(), "u1", "push", func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"the ", "gate ", "opens"}, got)
	assert.Len(t, r.Session.History(), 3)
}

func TestContinueStreamFailureKeepsHistory(t *testing.T) {
	llm := &fakeLLM{reply: func([]schema.Turn) (string, error) { return "the gate opens", nil }}
	svc, store := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)
	before, _ := store.Get("u1")

	reset := errors.New("connection reset")
	llm.streamErr = reset
	var got []string
	_, err = svc.ContinueStream(context.Background(), "u1", "push", func(d string) error {
		got = append(got, d)
		return nil
	})
	require.ErrorIs(t, err, reset)
	var ce *CompletionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"the "}, got)

	after, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, before.Turns, after.Turns)
}

func TestSameUserTurnsAreSerialized(t *testing.T) {
	var active, peak atomic.Int32
	llm := &fakeLLM{reply: func([]schema.Turn) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	}}
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Continue(context.Background(), "u1", "again")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load())
	sess, err := svc.Session("u1")
	require.NoError(t, err)
	assert.Len(t, sess.History(), 9)
}

func TestResetAndSession(t *testing.T) {
	svc, _ := newService(echoLLM())
	_, err := svc.Start(context.Background(), "u1", "ctx", "romance")
	require.NoError(t, err)

	sess, err := svc.Session("u1")
	require.NoError(t, err)
	assert.Equal(t, "ctx", sess.Context)

	require.NoError(t, svc.Reset("u1"))
	assert.ErrorIs(t, svc.Reset("u1"), ErrSessionNotFound)
	_, err = svc.Session("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGenerate(t *testing.T) {
	llm := &fakeLLM{reply: func([]schema.Turn) (string, error) { return "Once upon a time", nil }}
	svc, store := newService(llm)

	_, err := svc.Generate(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := svc.Generate(context.Background(), "a dragon who bakes")
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", got)

	c := llm.last()
	require.Len(t, c.turns, 1)
	assert.Equal(t, schema.RoleUser, c.turns[0].Role)
	assert.EqualValues(t, 500, c.params.MaxTokens.Value)
	assert.Equal(t, 0, store.Len())
}

func TestSuggestCachesPerStoryState(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	llm.reply = func(turns []schema.Turn) (string, error) {
		if turns[len(turns)-1].Content == suggestPrompt {
			return "```json\n{\"actions\":[\"Open the door\",\"open the door\",\" \",\"Run\",\"Hide\"]}\n```", nil
		}
		return "next", nil
	}

	got, err := svc.Suggest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Open the door", "Run", "Hide"}, got)
	assert.NotNil(t, llm.last().params.ResponseFormat.OfJSONSchema)

	calls := llm.count()
	_, err = svc.Suggest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, calls, llm.count(), "unchanged story should reuse suggestions")

	_, err = svc.Continue(context.Background(), "u1", "I hide")
	require.NoError(t, err)
	_, err = svc.Suggest(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, calls+2, llm.count())

	_, err = svc.Suggest(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSuggestRejectsUnusableOutput(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)

	llm.reply = func([]schema.Turn) (string, error) { return "I cannot do that", nil }
	_, err = svc.Suggest(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoSuggestions)

	llm.reply = func([]schema.Turn) (string, error) { return `{"actions":["Run","Hide","run"]}`, nil }
	_, err = svc.Suggest(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoSuggestions)
	assert.Zero(t, svc.suggestions.Len())
}

func TestSuggestionsForOldStoryStateAreNotCached(t *testing.T) {
	llm := echoLLM()
	svc, store := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "ctx", "")
	require.NoError(t, err)
	sess, _ := store.Get("u1")
	old := keyFor(sess.UserID, sess.Turns)

	_, err = svc.Continue(context.Background(), "u1", "I wait")
	require.NoError(t, err)
	calls := llm.count()

	_, err = svc.suggestions.Get(old)
	assert.ErrorIs(t, err, errStaleStory)
	assert.Equal(t, calls, llm.count())
	assert.Zero(t, svc.suggestions.Len())
}

func TestExtractCharactersMergesAndFeedsPrompt(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "Captain Reyes meets Elara.", "")
	require.NoError(t, err)
	_, err = svc.SetCharacters("u1", []schema.Character{{Name: "Elara", Aliases: []string{"the Witch"}}})
	require.NoError(t, err)

	llm.reply = func(turns []schema.Turn) (string, error) {
		if turns[0].Content == nameExtractPrompt {
			return `{"characters":[{"name":"elara","aliases":["Silver Witch","the witch"]},{"name":"Captain Reyes","aliases":["Reyes"]}]}`, nil
		}
		return "next", nil
	}
	chars, err := svc.ExtractCharacters(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []schema.Character{
		{Name: "Elara", Aliases: []string{"the Witch", "Silver Witch"}},
		{Name: "Captain Reyes", Aliases: []string{"Reyes"}},
	}, chars)

	stored, err := svc.Characters("u1")
	require.NoError(t, err)
	assert.Equal(t, chars, stored)

	_, err = svc.Continue(context.Background(), "u1", "I salute")
	require.NoError(t, err)
	system := llm.last().turns[0]
	assert.Contains(t, system.Content, "KNOWN CHARACTERS")
	assert.Contains(t, system.Content, "- Captain Reyes (also known as Reyes)")
}

func TestExtractCharactersFallsBackToHeuristic(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "Mira walks in. Mira waves at Tobin. Tobin nods. The end.", "")
	require.NoError(t, err)

	llm.reply = func([]schema.Turn) (string, error) { return "not json", nil }
	chars, err := svc.ExtractCharacters(context.Background(), "u1")
	require.NoError(t, err)
	var names []string
	for _, c := range chars {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"Mira", "Tobin"}, names)
}

func TestSetCharactersWaitsForExtraction(t *testing.T) {
	llm := echoLLM()
	svc, _ := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "Captain Reyes meets Elara.", "")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	llm.reply = func(turns []schema.Turn) (string, error) {
		if turns[0].Content == nameExtractPrompt {
			close(entered)
			<-release
			return `{"characters":[{"name":"Elara"}]}`, nil
		}
		return "next", nil
	}

	extracted := make(chan error, 1)
	go func() {
		_, err := svc.ExtractCharacters(context.Background(), "u1")
		extracted <- err
	}()
	<-entered

	put := make(chan error, 1)
	go func() {
		_, err := svc.SetCharacters("u1", []schema.Character{{Name: "Captain Reyes"}})
		put <- err
	}()
	select {
	case <-put:
		t.Fatal("roster replaced while extraction was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-extracted)
	require.NoError(t, <-put)

	chars, err := svc.Characters("u1")
	require.NoError(t, err)
	require.Len(t, chars, 1)
	assert.Equal(t, "Captain Reyes", chars[0].Name)
}

func TestExtractCharactersKeepsStoredRoster(t *testing.T) {
	llm := echoLLM()
	svc, store := newService(llm)
	_, err := svc.Start(context.Background(), "u1", "Elara waits.", "")
	require.NoError(t, err)

	llm.reply = func([]schema.Turn) (string, error) {
		// a roster change that bypasses the per-user lock
		_, _ = store.Update("u1", func(sess *session.Session) error {
			sess.Characters = []schema.Character{{Name: "Tobin"}}
			return nil
		})
		return `{"characters":[{"name":"Elara"}]}`, nil
	}
	chars, err := svc.ExtractCharacters(context.Background(), "u1")
	require.NoError(t, err)

	var names []string
	for _, c := range chars {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Tobin", "Elara"}, names)
}

func TestCharactersUnknownSession(t *testing.T) {
	svc, _ := newService(echoLLM())
	_, err := svc.Characters("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.SetCharacters("ghost", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.ExtractCharacters(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeuristicSkipsSentenceStarters(t *testing.T) {
	got := heuristicCharacters("The door. The wind. Suddenly it rains. Anya runs. Anya stops.")
	require.Len(t, got, 1)
	assert.Equal(t, "Anya", got[0].Name)
}
