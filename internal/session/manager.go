// Package session tracks active conversations and the recent-turn memory
// each of them owns.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/chat-memory/internal/window"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

// Session is one conversation. UserID may be empty for anonymous chats.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	Turns          int       `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	Session
	window *window.Window
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	windowK           int
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(windowK int, inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		windowK:           windowK,
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID string) *Session {
	now := time.Now().UTC()
	e := &entry{
		Session: Session{
			ID:             uuid.NewString(),
			UserID:         userID,
			Status:         StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
		},
		window: window.New(m.windowK),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[e.ID] = e
	return clone(e)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

// Window returns the memory window of an active session.
func (m *Manager) Window(sessionID string) (*window.Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != StatusActive {
		return nil, ErrEnded
	}
	return e.window, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordTurn counts a completed turn and refreshes activity.
func (m *Manager) RecordTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.Turns++
	e.LastActivityAt = time.Now().UTC()
	return nil
}

// End closes a session and clears its memory window. A turn still in
// flight keeps the detached window, so its late push never reaches the
// ended session.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	m.end(e, time.Now().UTC())
	return clone(e), nil
}

func (m *Manager) end(e *entry, now time.Time) {
	e.Status = StatusEnded
	e.LastActivityAt = now
	e.window.Reset()
	e.window = window.New(m.windowK)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive ends idle sessions and forgets sessions that ended
// more than one timeout ago.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, e := range m.sessions {
		idle := now.Sub(e.LastActivityAt)
		if e.Status != StatusActive {
			if idle >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if idle < m.inactivityTimeout {
			continue
		}
		m.end(e, now)
		expired = append(expired, clone(e))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(e *entry) *Session {
	c := e.Session
	return &c
}
