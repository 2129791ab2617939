package test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/password"
	"github.com/campusreach/authcore/userstore"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type outbox struct {
	mu      sync.Mutex
	resets  map[string][]string
	changed []string
}

func (o *outbox) SendPasswordReset(_ context.Context, to, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resets == nil {
		o.resets = make(map[string][]string)
	}
	o.resets[to] = append(o.resets[to], token)
	return nil
}

func (o *outbox) SendPasswordChanged(_ context.Context, to string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, to)
	return nil
}

func (o *outbox) lastToken(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.resets[to]
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1]
}

type harness struct {
	engine *authcore.Engine
	users  *userstore.Memory
	mail   *outbox
	audit  *authcore.ChannelSink
}

// newHarness builds an engine over rdb, or over the in-process backend when
// rdb is nil.
func newHarness(t *testing.T, rdb redis.UniversalClient, users *userstore.Memory) *harness {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Password.BcryptCost = password.MinCost
	cfg.PasswordReset.EnumerationDelayMin = 0
	cfg.PasswordReset.EnumerationDelayMax = 0
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	if users == nil {
		users = userstore.NewMemory()
	}
	h := &harness{users: users, mail: &outbox{}, audit: authcore.NewChannelSink(256)}

	b := authcore.New().
		WithConfig(cfg).
		WithUserStore(users).
		WithEmailSender(h.mail).
		WithAuditSink(h.audit).
		WithLogger(log.New(io.Discard, "", 0))
	if rdb != nil {
		b = b.WithRedis(rdb)
	}

	engine, err := b.Build()
	require.NoError(t, err)
	engine.Start(context.Background())
	t.Cleanup(engine.Shutdown)
	h.engine = engine
	return h
}

func (h *harness) addUser(t *testing.T, email, pw string) authcore.UserRecord {
	t.Helper()

	hasher, err := password.NewBcrypt(password.MinCost)
	require.NoError(t, err)
	hash, err := hasher.Hash(pw)
	require.NoError(t, err)
	user, err := h.users.Create(context.Background(), email, hash)
	require.NoError(t, err)
	return user
}

// awaitAudit collects dispatched events until one of eventType arrives.
func (h *harness) awaitAudit(t *testing.T, eventType string) authcore.AuditEvent {
	t.Helper()

	var found authcore.AuditEvent
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-h.audit.Events():
				if ev.EventType == eventType {
					found = ev
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond, "audit event %s not delivered", eventType)
	return found
}
