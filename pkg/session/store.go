package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"

	"chronicles/pkg/modes"
	"chronicles/pkg/schema"
)

var ErrNotFound = errors.New("session not found")

// Session is the server-held record of one user's story.
type Session struct {
	ID         string             `json:"id"`
	UserID     string             `json:"userId"`
	Mode       modes.Mode         `json:"mode"`
	Context    string             `json:"context"`
	Turns      []schema.Turn      `json:"turns"`
	Characters []schema.Character `json:"characters,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

func New(userID string, mode modes.Mode, storyContext string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        ksuid.New().String(),
		UserID:    userID,
		Mode:      mode,
		Context:   storyContext,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// History returns the turns visible to the player.
func (s *Session) History() []schema.Turn {
	return schema.WithoutSystem(s.Turns)
}

// Append adds turns in order and bumps UpdatedAt.
func (s *Session) Append(turns ...schema.Turn) {
	s.Turns = append(s.Turns, turns...)
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) Clone() *Session {
	c := *s
	c.Turns = slices.Clone(s.Turns)
	if s.Characters != nil {
		c.Characters = make([]schema.Character, len(s.Characters))
		for i, ch := range s.Characters {
			ch.Aliases = slices.Clone(ch.Aliases)
			c.Characters[i] = ch
		}
	}
	return &c
}

type entry struct {
	session      *Session
	lastAccessed time.Time
}

// Store is a volatile map of sessions keyed by user id. Everything is lost on
// restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	maxSize  int
	ttl      time.Duration
	now      func() time.Time

	locks *MutexMap
}

type Options struct {
	// MaxSize bounds the number of sessions, <= 0 means unbounded.
	MaxSize int
	// TTL expires sessions idle for longer than this, <= 0 disables expiry.
	TTL time.Duration
}

func NewStore(opts Options) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		maxSize:  opts.MaxSize,
		ttl:      opts.TTL,
		now:      time.Now,
		locks:    NewMutexMap(),
	}
}

// Lock serializes work on one user's session. Different users do not block
// each other.
func (s *Store) Lock(userID string) (unlock func()) {
	s.locks.Lock(userID)
	return func() { s.locks.Unlock(userID) }
}

// Put stores a copy of sess, replacing any session the user already had.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.UserID]; !exists && s.maxSize > 0 && len(s.sessions) >= s.maxSize {
		s.evictOldestLocked()
	}
	s.sessions[sess.UserID] = &entry{session: sess.Clone(), lastAccessed: s.now()}
}

// Get returns a copy of the user's session.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	if s.expiredLocked(e) {
		delete(s.sessions, userID)
		return nil, false
	}
	e.lastAccessed = s.now()
	return e.session.Clone(), true
}

// Update applies fn to the stored session. Changes are discarded if fn fails.
func (s *Store) Update(userID string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok || s.expiredLocked(e) {
		delete(s.sessions, userID)
		return nil, ErrNotFound
	}

	draft := e.session.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	e.session = draft
	e.lastAccessed = s.now()
	return draft.Clone(), nil
}

func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, e := range s.sessions {
		if s.expiredLocked(e) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, every time.Duration) {
	if s.ttl <= 0 || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				log.Info("expired idle sessions", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (s *Store) expiredLocked(e *entry) bool {
	return s.ttl > 0 && s.now().Sub(e.lastAccessed) > s.ttl
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.sessions {
		if oldestID == "" || e.lastAccessed.Before(oldest) {
			oldestID = id
			oldest = e.lastAccessed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		log.Debug("evicted least recently used session", "userId", oldestID)
	}
}
