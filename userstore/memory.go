package userstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/campusreach/authcore"
	"github.com/google/uuid"
)

// ErrEmailTaken is returned by Create when the address already has an account.
var ErrEmailTaken = errors.New("email already registered")

// Memory is a process-local user store.
type Memory struct {
	mu      sync.RWMutex
	byEmail map[string]authcore.UserRecord
	byID    map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byEmail: make(map[string]authcore.UserRecord),
		byID:    make(map[string]string),
	}
}

// Create adds an account and returns it with a fresh id.
func (m *Memory) Create(_ context.Context, email, passwordHash string) (authcore.UserRecord, error) {
	email = authcore.NormalizeEmail(email)
	if email == "" || passwordHash == "" {
		return authcore.UserRecord{}, fmt.Errorf("%w: email and password hash are required", authcore.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return authcore.UserRecord{}, ErrEmailTaken
	}
	u := authcore.UserRecord{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash}
	m.byEmail[email] = u
	m.byID[u.ID] = email
	return u, nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[authcore.NormalizeEmail(email)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (authcore.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email, ok := m.byID[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return m.byEmail[email], nil
}

func (m *Memory) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u := m.byEmail[email]
	u.PasswordHash = passwordHash
	m.byEmail[email] = u
	return nil
}

// SetDisabled blocks or unblocks an account.
func (m *Memory) SetDisabled(_ context.Context, userID string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u := m.byEmail[email]
	u.Disabled = disabled
	m.byEmail[email] = u
	return nil
}
