package authcore

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/campusreach/authcore/store"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	tb.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestMemory(clock *testClock) *store.Memory {
	return store.NewMemory(store.WithClock(clock.Now))
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]UserRecord
	failing bool
	updates int
}

func newFakeUserStore(users ...UserRecord) *fakeUserStore {
	s := &fakeUserStore{byEmail: make(map[string]UserRecord)}
	for _, u := range users {
		s.byEmail[u.Email] = u
	}
	return s
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return io.ErrUnexpectedEOF
	}
	for email, u := range s.byEmail {
		if u.ID == userID {
			u.PasswordHash = hash
			s.byEmail[email] = u
			s.updates++
			return nil
		}
	}
	return ErrUserNotFound
}

func (s *fakeUserStore) hash(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEmail[email].PasswordHash
}

type sentReset struct {
	to        string
	token     string
	expiresAt time.Time
}

type recordingMailer struct {
	mu      sync.Mutex
	resets  []sentReset
	changed []string
	fail    bool
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return io.ErrClosedPipe
	}
	m.resets = append(m.resets, sentReset{to: to, token: token, expiresAt: expiresAt})
	return nil
}

func (m *recordingMailer) SendPasswordChanged(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, to)
	return nil
}

func (m *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		t.Fatal("no reset email was sent")
	}
	return m.resets[len(m.resets)-1].token
}

func (m *recordingMailer) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resets)
}

// drainEvents collects everything currently buffered in sink.
func drainEvents(sink *ChannelSink) []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case e := <-sink.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func hasEvent(events []AuditEvent, eventType string) bool {
	for _, e := range events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}
