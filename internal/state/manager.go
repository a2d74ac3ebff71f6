package state

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"oggstream/internal/oggdemux"
	"oggstream/internal/types"
)

// Session is one demuxer opened over an uploaded or local Ogg file.
//
// Packet readers allow a single consumer, so every handler that pulls
// packets or seeks must hold the session with Acquire.
type Session struct {
	ID        string
	CID       string
	Name      string
	CreatedAt time.Time
	Demuxer   *oggdemux.Demuxer

	consumer sync.Mutex
	busy     bool
	busyMu   sync.Mutex
}

// Acquire claims the session for one consumer. It fails with
// ErrSessionBusy instead of waiting, since a WebSocket consumer can hold
// a session for as long as the file plays.
func (s *Session) Acquire() (release func(), err error) {
	if !s.consumer.TryLock() {
		return nil, ErrSessionBusy
	}
	s.setBusy(true)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.setBusy(false)
			s.consumer.Unlock()
		})
	}, nil
}

func (s *Session) setBusy(b bool) {
	s.busyMu.Lock()
	s.busy = b
	s.busyMu.Unlock()
}

// Busy reports whether a consumer holds the session.
func (s *Session) Busy() bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	return s.busy
}

// Info snapshots the session for the API.
func (s *Session) Info() types.SessionInfo {
	return types.SessionInfo{
		ID:         s.ID,
		CID:        s.CID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		Seekable:   s.Demuxer.CanSeek(),
		Streams:    s.Demuxer.Streams(),
		PagesRead:  s.Demuxer.PagesRead(),
		WasteBytes: s.Demuxer.WasteBytes(),
	}
}

// Manager is the registry of open sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	created  int
	closed   bool
	onChange func(active int)
}

// NewManager returns an empty registry. onChange, if set, is called with
// the number of open sessions after every add or remove.
func NewManager(onChange func(active int)) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		onChange: onChange,
	}
}

// Create registers a new session over d and returns it.
func (m *Manager) Create(name, cid string, d *oggdemux.Demuxer) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		CID:       cid,
		Name:      name,
		CreatedAt: time.Now(),
		Demuxer:   d,
	}
	if err := m.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Add registers s under s.ID.
func (m *Manager) Add(s *Session) error {
	if _, err := uuid.Parse(s.ID); err != nil {
		return ErrInvalidSessionID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, exists := m.sessions[s.ID]; exists {
		m.mu.Unlock()
		return ErrSessionExists
	}
	m.sessions[s.ID] = s
	m.created++
	n := len(m.sessions)
	m.mu.Unlock()

	m.notify(n)
	return nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove unregisters the session and closes its demuxer. A consumer still
// streaming from it sees its reads fail.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	m.notify(n)
	return s.Demuxer.Close()
}

// All returns the open sessions, oldest first.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	// Sort sessions by creation time for consistent ordering
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions
}

func (m *Manager) GetStats() types.ServerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	busy := 0
	for _, s := range m.sessions {
		if s.Busy() {
			busy++
		}
	}
	return types.ServerStats{
		ActiveSessions: len(m.sessions),
		TotalSessions:  m.created,
		BusySessions:   busy,
	}
}

// Shutdown closes every session and rejects new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Demuxer.Close()
	}
	m.notify(0)
}

func (m *Manager) notify(n int) {
	if m.onChange != nil {
		m.onChange(n)
	}
}
