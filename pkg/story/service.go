package story

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"chronicles/pkg/flight"
	"chronicles/pkg/inference"
	"chronicles/pkg/modes"
	"chronicles/pkg/schema"
	"chronicles/pkg/session"
	"chronicles/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// InputError carries the client-facing reason a request was rejected.
// It matches ErrInvalidInput with errors.Is.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(reason string) error { return &InputError{Reason: reason} }

// CompletionError wraps a failed call to the completion endpoint.
type CompletionError struct {
	Op  string
	Err error
}

func (e *CompletionError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *CompletionError) Unwrap() error { return e.Err }

// Reply is the outcome of a story turn.
type Reply struct {
	Message string
	Session *session.Session
}

type Options struct {
	// HistoryWindow caps the turns sent per request, the system turn included.
	HistoryWindow int
	// TokenBudget caps the prompt size in tokens, <= 0 disables it.
	TokenBudget int
	// Counter defaults to utils.EstimateTokens.
	Counter session.TokenCounter
	// GenerateMaxTokens is the output limit for one-shot stories.
	GenerateMaxTokens int64
	// SuggestionTTL bounds how long quick actions are reused for an unchanged story.
	SuggestionTTL time.Duration
	// BackgroundTimeout bounds work that outlives a single request, such as
	// shared suggestion generation.
	BackgroundTimeout time.Duration
}

// Service runs story turns against a completion endpoint and keeps the
// resulting history in the session store.
type Service struct {
	store *session.Store
	modes *modes.Registry
	llm   inference.Completer

	window            session.WindowOptions
	generateMaxTokens int64
	backgroundTimeout time.Duration

	suggestions *flight.Cache[suggestKey, []string]
}

func NewService(store *session.Store, registry *modes.Registry, llm inference.Completer, opts Options) *Service {
	if opts.Counter == nil {
		opts.Counter = utils.EstimateTokens
	}
	if opts.GenerateMaxTokens <= 0 {
		opts.GenerateMaxTokens = 500
	}
	if opts.SuggestionTTL <= 0 {
		opts.SuggestionTTL = 10 * time.Minute
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = time.Minute
	}
	s := &Service{
		store: store,
		modes: registry,
		llm:   llm,
		window: session.WindowOptions{
			MaxTurns:    opts.HistoryWindow,
			TokenBudget: opts.TokenBudget,
			Counter:     opts.Counter,
		},
		generateMaxTokens: opts.GenerateMaxTokens,
		backgroundTimeout: opts.BackgroundTimeout,
	}
	s.suggestions = flight.NewCache(opts.SuggestionTTL, s.generateSuggestions)
	return s
}

func (s *Service) Modes() []modes.Summary {
	return s.modes.List()
}

// Start opens a new story for userID. An existing session is only replaced
// once the opening reply has been generated.
func (s *Service) Start(ctx context.Context, userID, storyContext, modeID string) (*Reply, error) {
	userID = strings.TrimSpace(userID)
	storyContext = strings.TrimSpace(storyContext)
	if userID == "" || storyContext == "" {
		return nil, invalid("userId and context are required")
	}

	unlock := s.store.Lock(userID)
	defer unlock()

	mode := s.modes.Resolve(modeID)
	sess := session.New(userID, mode, storyContext)
	sess.Append(schema.NewTurn(schema.RoleSystem, systemPrompt(mode, storyContext)))

	reply, err := s.llm.Complete(ctx, nil, s.prompt(sess))
	if err != nil {
		return nil, &CompletionError{Op: "start story", Err: err}
	}
	sess.Append(schema.NewTurn(schema.RoleAssistant, reply))

	s.store.Put(sess)
	s.forgetSuggestions(userID)
	log.Info("started story", "userId", userID, "mode", mode.ID)

	return &Reply{Message: reply, Session: sess}, nil
}

// Continue appends message to the user's story and generates the next reply.
// Both turns are committed together, or not at all.
func (s *Service) Continue(ctx context.Context, userID, message string) (*Reply, error) {
	return s.continueWith(ctx, userID, message, func(turns []schema.Turn) (string, error) {
		return s.llm.Complete(ctx, nil, turns)
	})
}

// ContinueStream is Continue with onDelta receiving the reply as it is generated.
func (s *Service) ContinueStream(ctx context.Context, userID, message string, onDelta func(string) error) (*Reply, error) {
	return s.continueWith(ctx, userID, message, func(turns []schema.Turn) (string, error) {
		return s.llm.Stream(ctx, nil, turns, onDelta)
	})
}

func (s *Service) continueWith(ctx context.Context, userID, message string, generate func([]schema.Turn) (string, error)) (*Reply, error) {
	userID = strings.TrimSpace(userID)
	message = strings.TrimSpace(message)
	if userID == "" || message == "" {
		return nil, invalid("userId and userMessage are required")
	}

	unlock := s.store.Lock(userID)
	defer unlock()

	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	userTurn := schema.NewTurn(schema.RoleUser, message)
	sess.Append(userTurn)

	reply, err := generate(s.prompt(sess))
	if err != nil {
		return nil, &CompletionError{Op: "continue story", Err: err}
	}
	assistantTurn := schema.NewTurn(schema.RoleAssistant, reply)

	updated, err := s.store.Update(userID, func(stored *session.Session) error {
		stored.Append(userTurn, assistantTurn)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		// reset while the reply was being generated
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.forgetSuggestions(userID)
	log.Debug("continued story", "userId", userID, "turns", len(updated.Turns))

	return &Reply{Message: reply, Session: updated}, nil
}

// Session returns a copy of the user's current session.
func (s *Service) Session(userID string) (*session.Session, error) {
	sess, ok := s.store.Get(strings.TrimSpace(userID))
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Reset drops the user's session.
func (s *Service) Reset(userID string) error {
	userID = strings.TrimSpace(userID)
	if !s.store.Delete(userID) {
		return ErrSessionNotFound
	}
	s.forgetSuggestions(userID)
	log.Info("reset story", "userId", userID)
	return nil
}

// Generate writes a one-shot story from prompt without touching any session.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", invalid("prompt is required")
	}
	params := &openai.ChatCompletionNewParams{MaxTokens: openai.Int(s.generateMaxTokens)}
	story, err := s.llm.Complete(ctx, params, []schema.Turn{schema.NewTurn(schema.RoleUser, prompt)})
	if err != nil {
		return "", &CompletionError{Op: "generate story", Err: err}
	}
	return story, nil
}

// prompt builds the window sent to the completion endpoint. The character
// roster, if any, is folded into the system turn.
func (s *Service) prompt(sess *session.Session) []schema.Turn {
	turns := sess.Turns
	if roster := rosterBlock(sess.Characters); roster != "" {
		turns = make([]schema.Turn, len(sess.Turns))
		copy(turns, sess.Turns)
		for i := range turns {
			if turns[i].Role == schema.RoleSystem {
				turns[i].Content += roster
				break
			}
		}
	}
	return session.Window(turns, s.window)
}
