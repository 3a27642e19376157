// Package sessionstore keeps active case sessions in process memory.
package sessionstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.CaseSession
}

var _ ports.SessionStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*domain.CaseSession)}
}

// Get returns a clone of the stored session, so callers can mutate the
// result freely and commit it back with Put.
func (m *Memory) Get(_ context.Context, caseID string) (*domain.CaseSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[caseID]
	if !ok {
		return nil, false, nil
	}
	return session.Clone(), true, nil
}

func (m *Memory) Put(_ context.Context, session *domain.CaseSession) error {
	if session == nil || strings.TrimSpace(session.CaseID) == "" {
		return errors.New("sessionstore: session missing case id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.CaseID] = session.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, caseID)
	return nil
}

// Len reports the number of live sessions, used by metrics.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
