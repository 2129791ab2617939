package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusreach/authcore/internal"
	"github.com/campusreach/authcore/store"
)

// ErrNotFound is returned when no live record exists for a session id.
var ErrNotFound = errors.New("session: not found")

// Store persists sessions in a [store.Backend] under
// "<prefix>:<hash(sessionID)>". It owns encoding and key derivation; it does
// not decide validity or sliding policy.
type Store struct {
	backend store.Backend
	prefix  string
	hashKey []byte
}

// NewStore creates a session [Store]. hashKey, when non-empty, switches key
// derivation from SHA-256 to HMAC-SHA256.
func NewStore(backend store.Backend, prefix string, hashKey []byte) *Store {
	return &Store{
		backend: backend,
		prefix:  strings.TrimSuffix(prefix, ":") + ":",
		hashKey: append([]byte(nil), hashKey...),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() store.Backend {
	return s.backend
}

// Handle returns the hashed identifier stored in place of sessionID.
func (s *Store) Handle(sessionID string) string {
	return internal.HashToken(sessionID, s.hashKey)
}

func (s *Store) key(handle string) string {
	return s.prefix + handle
}

// Save writes sess under sessionID with the given TTL.
func (s *Store) Save(ctx context.Context, sessionID string, sess *Session, ttl time.Duration) error {
	return s.SaveHandle(ctx, s.Handle(sessionID), sess, ttl)
}

// SaveHandle is Save for callers that only know the handle (admin listing).
func (s *Store) SaveHandle(ctx context.Context, handle string, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNotFound
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, s.key(handle), data, ttl)
}

// RefreshHandle rewrites an existing record with a new TTL. It reports false
// and writes nothing when the record was deleted or expired since it was
// read, so a sliding refresh never resurrects a revoked session.
func (s *Store) RefreshHandle(ctx context.Context, handle string, sess *Session, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	data, err := Encode(sess)
	if err != nil {
		return false, err
	}
	return s.backend.Replace(ctx, s.key(handle), data, ttl)
}

// Get loads the record for sessionID. Missing keys return [ErrNotFound];
// backend failures wrap [store.ErrUnavailable]. Validity is not checked here.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.GetHandle(ctx, s.Handle(sessionID))
}

// GetHandle is Get by handle.
func (s *Store) GetHandle(ctx context.Context, handle string) (*Session, error) {
	data, err := s.backend.Get(ctx, s.key(handle))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.Handle = handle
	return sess, nil
}

// Delete removes the record for sessionID and reports whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	return s.DeleteHandle(ctx, s.Handle(sessionID))
}

// DeleteHandle is Delete by handle.
func (s *Store) DeleteHandle(ctx context.Context, handle string) (bool, error) {
	n, err := s.backend.Delete(ctx, s.key(handle))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Each decodes every stored session and calls fn with it. Corrupt records are
// skipped; records that vanish between the scan and the read are ignored.
func (s *Store) Each(ctx context.Context, fn func(sess *Session) error) error {
	return s.backend.ScanPrefix(ctx, s.prefix, func(key string) error {
		handle := strings.TrimPrefix(key, s.prefix)
		sess, err := s.GetHandle(ctx, handle)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
				return nil
			}
			return err
		}
		return fn(sess)
	})
}

// DeleteAllForUser removes every session belonging to userID and returns how
// many were removed.
//
// ATOMICITY NOTE: the keyspace is scanned, then matching records are deleted.
// A session created for the user after its key was passed by the scan
// survives this call. Callers that need a hard cut-off should pair this with
// a credential change so the stray session cannot be re-established.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	var handles []string
	err := s.Each(ctx, func(sess *Session) error {
		if sess.UserID == userID {
			handles = append(handles, sess.Handle)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, nil
	}

	keys := make([]string, len(handles))
	for i, h := range handles {
		keys[i] = s.key(h)
	}
	n, err := s.backend.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return n, nil
}

// ListForUser returns the live sessions of userID without touching them.
func (s *Store) ListForUser(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	var out []*Session
	err := s.Each(ctx, func(sess *Session) error {
		if sess.UserID == userID && sess.Valid(now) {
			out = append(out, sess)
		}
		return nil
	})
	return out, err
}
