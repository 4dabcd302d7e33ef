package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"Rectify/internal/apperr"
)

// Store persists session state by id. Implementations need only get/put
// semantics; expiry is handled by the store itself.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
}

// Summary is a lightweight listing row
type Summary struct {
	ID         string    `json:"id"`
	ChartID    string    `json:"chart_id,omitempty"`
	Status     Status    `json:"status"`
	Confidence float64   `json:"confidence"`
	Questions  int       `json:"questions"`
	Answers    int       `json:"answers"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summarize builds the listing row for s
func Summarize(s *Session) Summary {
	return Summary{
		ID:         s.ID,
		ChartID:    s.ChartID,
		Status:     s.Status,
		Confidence: s.Confidence,
		Questions:  len(s.Questions),
		Answers:    len(s.Answers),
		UpdatedAt:  s.UpdatedAt,
	}
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. A zero TTL never expires.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the stored session
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || m.expired(entry) {
		return nil, apperr.New(apperr.KindSessionNotFound, "session %s not found", id)
	}
	return entry.session.Clone()
}

// Put stores a copy of s, refreshing its expiry
func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	clone, err := s.Clone()
	if err != nil {
		return err
	}
	entry := memoryEntry{session: clone}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[s.ID] = entry
	m.mu.Unlock()
	return nil
}

// List returns summaries of live sessions
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.entries))
	for _, e := range m.entries {
		if m.expired(e) {
			continue
		}
		out = append(out, Summarize(e.session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}
