package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/praxis/pkg/models"
)

// maxMessagesPerSession caps stored messages per session so a runaway
// conversation cannot grow memory without bound. Oldest messages are
// trimmed first.
const maxMessagesPerSession = 1000

// MemoryStore is the in-memory Store used for tests and as the fallback
// when the sqlite database cannot be opened. Messages are held as encoded
// payloads so reads decode through the same codec as the sqlite store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
		messages: map[string][][]byte{},
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.CreatedAt
	clone := *session
	m.sessions[clone.ID] = &clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	clone := *session
	clone.Messages = len(m.messages[id])
	return &clone, nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, session := range m.sessions {
		if opts.Cwd != "" && session.Cwd != opts.Cwd {
			continue
		}
		clone := *session
		clone.Messages = len(m.messages[session.ID])
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return nil, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	payload, err := models.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	session.UpdatedAt = time.Now().UTC()
	m.messages[sessionID] = append(m.messages[sessionID], payload)
	if excess := len(m.messages[sessionID]) - maxMessagesPerSession; excess > 0 {
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return nil
}

func (m *MemoryStore) Transcript(ctx context.Context, sessionID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	payloads := m.messages[sessionID]
	msgs := make([]models.Message, 0, len(payloads))
	for _, payload := range payloads {
		msg, err := models.UnmarshalMessage(payload)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs, nil
}

func (m *MemoryStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) <= keep {
		return 0, nil
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.sessions[ids[i]], m.sessions[ids[j]]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	pruned := 0
	for _, id := range ids[keep:] {
		delete(m.sessions, id)
		delete(m.messages, id)
		pruned++
	}
	return pruned, nil
}
