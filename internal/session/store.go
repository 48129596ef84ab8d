// Package session holds the client's named copilot conversations and the
// pointer to the one currently in use.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/qdash-dev/copilot/internal/logger"
)

// PlaceholderTitle is the title of a session nobody has written in yet.
const PlaceholderTitle = "New Chat"

const maxTitleRunes = 30

var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Content is user text or the serialized
// assistant output (plain text or JSON).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one named conversation.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []Message      `json:"messages"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = append(make([]Message, 0, len(s.Messages)), s.Messages...)
	if s.Context != nil {
		c.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// ChangeKind names the mutation that triggered a notification.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeSwitched ChangeKind = "switched"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeMessages ChangeKind = "messages"
	ChangeTitled   ChangeKind = "titled"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind            ChangeKind
	SessionID       string
	ActiveSessionID string
}

// Store owns the session collection. If ActiveSessionID is non-empty it always
// names an existing session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	activeID string

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int

	// persist is called with the lock released after each mutation
	persist func() error
	now     func() time.Time

	// Local edits since the last Load or Save. Save lays them over the file
	// so sessions written by other processes survive.
	dirty       map[string]struct{}
	deleted     map[string]struct{}
	activeDirty bool
	// ids the file held at the last Load or Save of syncedPath
	synced     map[string]struct{}
	syncedPath string
	saveMu     sync.Mutex
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		subscribers: make(map[int]func(Change)),
		now:         time.Now,
		dirty:       make(map[string]struct{}),
		deleted:     make(map[string]struct{}),
		synced:      make(map[string]struct{}),
	}
}

// touch records a local edit of id. Callers hold s.mu.
func (s *Store) touch(id string) {
	s.dirty[id] = struct{}{}
	delete(s.deleted, id)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs synchronously on the mutating goroutine.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) changed(kind ChangeKind, sessionID string) {
	s.mu.RLock()
	c := Change{Kind: kind, SessionID: sessionID, ActiveSessionID: s.activeID}
	persist := s.persist
	s.mu.RUnlock()

	if persist != nil {
		if err := persist(); err != nil {
			logger.Warnf("failed to persist sessions after %s: %v", kind, err)
		}
	}

	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// CreateNewSession inserts an empty session, makes it active and returns its id.
func (s *Store) CreateNewSession(initialContext map[string]any) string {
	id := uuid.New().String()

	s.mu.Lock()
	sess := &Session{
		ID:        id,
		Title:     PlaceholderTitle,
		Messages:  []Message{},
		CreatedAt: s.now(),
	}
	if len(initialContext) > 0 {
		sess.Context = make(map[string]any, len(initialContext))
		for k, v := range initialContext {
			sess.Context[k] = v
		}
	}
	s.sessions[id] = sess
	s.activeID = id
	s.activeDirty = true
	s.touch(id)
	s.mu.Unlock()

	s.changed(ChangeCreated, id)
	return id
}

// SwitchSession makes id active. Unknown ids leave the store untouched and
// return false.
func (s *Store) SwitchSession(id string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.activeID = id
	s.activeDirty = true
	s.mu.Unlock()

	s.changed(ChangeSwitched, id)
	return true
}

// DeleteSession removes id. Deleting the active session clears the active
// pointer; the caller decides whether to create or select another one.
func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	delete(s.dirty, id)
	s.deleted[id] = struct{}{}
	if s.activeID == id {
		s.activeID = ""
		s.activeDirty = true
	}
	s.mu.Unlock()

	s.changed(ChangeDeleted, id)
	return true
}

// UpdateSessionMessages replaces the message list of id wholesale.
func (s *Store) UpdateSessionMessages(id string, messages []Message) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	sess.Messages = append(make([]Message, 0, len(messages)), messages...)
	s.touch(id)
	s.mu.Unlock()

	s.changed(ChangeMessages, id)
	return nil
}

// AutoTitleSession derives a title from the first user message. Sessions that
// already have a real title keep it.
func (s *Store) AutoTitleSession(id, firstUserMessage string) bool {
	title := DeriveTitle(firstUserMessage)
	if title == "" {
		return false
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || (sess.Title != "" && sess.Title != PlaceholderTitle) {
		s.mu.Unlock()
		return false
	}
	sess.Title = title
	s.touch(id)
	s.mu.Unlock()

	s.changed(ChangeTitled, id)
	return true
}

// ClearActiveSession empties the active session's messages without deleting it.
func (s *Store) ClearActiveSession() bool {
	s.mu.Lock()
	sess, ok := s.sessions[s.activeID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	sess.Messages = []Message{}
	id := sess.ID
	s.touch(id)
	s.mu.Unlock()

	s.changed(ChangeCleared, id)
	return true
}

func (s *Store) ActiveSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveSession returns a copy of the active session, or nil.
func (s *Store) ActiveSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[s.activeID]; ok {
		return sess.clone()
	}
	return nil
}

// Get returns a copy of session id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Resolve finds a session by full id or by a unique id prefix.
func (s *Store) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[ref]; ok {
		return ref, nil
	}
	var match string
	for id := range s.sessions {
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", errors.New("ambiguous session id " + ref)
			}
			match = id
		}
	}
	if match == "" {
		return "", ErrNotFound
	}
	return match, nil
}

// DeriveTitle collapses whitespace and truncates to a short title.
func DeriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}
