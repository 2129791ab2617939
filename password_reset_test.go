package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campusreach/authcore/password"
	"github.com/campusreach/authcore/store"
)

type resetFixture struct {
	clock    *testClock
	backend  store.Backend
	users    *fakeUserStore
	mailer   *recordingMailer
	sessions *SessionManager
	svc      *PasswordResetService
	sink     *ChannelSink
}

func newResetFixture(t *testing.T, mutate func(*PasswordResetConfig)) *resetFixture {
	t.Helper()

	clock := newTestClock()
	f := &resetFixture{
		clock:   clock,
		backend: newTestMemory(clock),
		users: newFakeUserStore(
			UserRecord{ID: "u-alice", Email: "alice@campus.edu"},
			UserRecord{ID: "u-carol", Email: "carol@campus.edu", Disabled: true},
		),
		mailer: &recordingMailer{},
		sink:   NewChannelSink(64),
	}

	cfg := DefaultConfig().PasswordReset
	cfg.EnumerationDelayMin = 0
	cfg.EnumerationDelayMax = 0
	if mutate != nil {
		mutate(&cfg)
	}
	pw := DefaultConfig().Password
	pw.BcryptCost = password.MinCost

	opts := []Option{WithClock(clock.Now), WithLogger(quietLogger()), WithAuditSink(f.sink)}
	f.sessions = newTestSessionManager(t, f.backend, clock, testSessionConfig(), opts...)

	svc, err := NewPasswordResetService(f.backend, cfg, pw, f.users, f.mailer, f.sessions, opts...)
	if err != nil {
		t.Fatalf("NewPasswordResetService failed: %v", err)
	}
	f.svc = svc
	return f
}

func TestPasswordResetFullFlow(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()
	meta := RequestMeta{IPAddress: "10.1.1.1"}

	s1, _ := f.sessions.Create(ctx, "u-alice", nil, meta)
	s2, _ := f.sessions.Create(ctx, "u-alice", nil, meta)

	res, err := f.svc.RequestReset(ctx, "  Alice@Campus.edu ", meta)
	if err != nil || !res.Success {
		t.Fatalf("RequestReset = %+v, %v", res, err)
	}
	token := f.mailer.lastToken(t)
	if len(token) != 43 {
		t.Fatalf("token length = %d, want 43", len(token))
	}

	v, err := f.svc.VerifyToken(ctx, token, meta)
	if err != nil || !v.Success || v.UserID != "u-alice" || v.Email != "alice@campus.edu" {
		t.Fatalf("VerifyToken = %+v, %v", v, err)
	}

	out, err := f.svc.ResetPassword(ctx, token, "Str0ng!Passw0rd", meta)
	if err != nil || !out.Success {
		t.Fatalf("ResetPassword = %+v, %v", out, err)
	}

	hasher, _ := password.NewBcrypt(password.MinCost)
	if ok, _ := hasher.Verify("Str0ng!Passw0rd", f.users.hash("alice@campus.edu")); !ok {
		t.Fatal("stored hash does not match the new password")
	}
	for _, id := range []string{s1.SessionID, s2.SessionID} {
		if _, err := f.sessions.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session survived the reset: %v", err)
		}
	}
	if len(f.mailer.changed) != 1 {
		t.Fatalf("password changed notices = %d, want 1", len(f.mailer.changed))
	}

	again, err := f.svc.ResetPassword(ctx, token, "An0ther!Passw0rd", meta)
	if !errors.Is(err, ErrResetTokenUsed) || again.Success {
		t.Fatalf("replay = %+v, %v", again, err)
	}
	if again.Error != resetInvalidMessage {
		t.Fatalf("replay error text = %q", again.Error)
	}
	if !hasEvent(drainEvents(f.sink), auditEventPasswordResetReplay) {
		t.Fatal("replay was not audited")
	}
}

func TestPasswordResetUnknownEmailLooksLikeSuccess(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	known, err := f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{})
	if err != nil {
		t.Fatalf("known: %v", err)
	}
	unknown, err := f.svc.RequestReset(ctx, "nobody@campus.edu", RequestMeta{})
	if err != nil {
		t.Fatalf("unknown: %v", err)
	}
	disabled, err := f.svc.RequestReset(ctx, "carol@campus.edu", RequestMeta{})
	if err != nil {
		t.Fatalf("disabled: %v", err)
	}

	if known != unknown || known != disabled {
		t.Fatalf("results differ: %+v / %+v / %+v", known, unknown, disabled)
	}
	if f.mailer.resetCount() != 1 {
		t.Fatalf("emails sent = %d, want 1", f.mailer.resetCount())
	}
}

func TestPasswordResetRejectsInvalidEmail(t *testing.T) {
	f := newResetFixture(t, nil)

	for _, email := range []string{"", "not-an-email", "a@b", strings.Repeat("a", 250) + "@x.edu"} {
		res, err := f.svc.RequestReset(context.Background(), email, RequestMeta{})
		if !errors.Is(err, ErrValidation) || res.Success {
			t.Fatalf("RequestReset(%q) = %+v, %v", email, res, err)
		}
	}
}

func TestPasswordResetRequestIsRateLimitedPerEmail(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{IPAddress: "10.0.0.1"}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	res, err := f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{IPAddress: "10.0.0.2"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want *RateLimitError", err)
	}
	if res.Success || res.RetryAfterSeconds < 1 {
		t.Fatalf("result = %+v", res)
	}
	if f.mailer.resetCount() != 3 {
		t.Fatalf("emails sent = %d, want 3", f.mailer.resetCount())
	}

	f.clock.Advance(time.Hour + time.Second)
	if _, err := f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{}); err != nil {
		t.Fatalf("request after window: %v", err)
	}
}

func TestPasswordResetPolicyViolationsKeepToken(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	_, _ = f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{})
	token := f.mailer.lastToken(t)

	res, err := f.svc.ResetPassword(ctx, token, "short", RequestMeta{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	want := []string{
		"must be at least 8 characters long",
		"must contain an uppercase letter",
		"must contain a digit",
		"must contain a special character",
	}
	if strings.Join(res.Violations, "|") != strings.Join(want, "|") {
		t.Fatalf("violations = %q", res.Violations)
	}
	if !strings.HasPrefix(res.Error, resetPolicyMessage) {
		t.Fatalf("error text = %q", res.Error)
	}

	if res, err := f.svc.ResetPassword(ctx, token, "Str0ng!Passw0rd", RequestMeta{}); err != nil || !res.Success {
		t.Fatalf("retry with a valid password = %+v, %v", res, err)
	}
}

func TestPasswordResetExpiredToken(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	_, _ = f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{})
	token := f.mailer.lastToken(t)

	f.clock.Advance(time.Hour + time.Minute)
	v, err := f.svc.VerifyToken(ctx, token, RequestMeta{})
	if !errors.Is(err, ErrInvalidCredentialToken) || v.Success {
		t.Fatalf("VerifyToken = %+v, %v", v, err)
	}
	if v.Error != resetInvalidMessage {
		t.Fatalf("error text = %q", v.Error)
	}
}

func TestPasswordResetUpdateFailureLeavesTokenUsable(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	_, _ = f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{})
	token := f.mailer.lastToken(t)

	f.users.failing = true
	res, err := f.svc.ResetPassword(ctx, token, "Str0ng!Passw0rd", RequestMeta{})
	if !errors.Is(err, ErrPasswordUpdateFailed) || res.Success {
		t.Fatalf("ResetPassword = %+v, %v", res, err)
	}

	f.users.failing = false
	if res, err := f.svc.ResetPassword(ctx, token, "Str0ng!Passw0rd", RequestMeta{}); err != nil || !res.Success {
		t.Fatalf("second attempt = %+v, %v", res, err)
	}
}

func TestPasswordResetDeliveryFailure(t *testing.T) {
	f := newResetFixture(t, nil)
	f.mailer.fail = true

	res, err := f.svc.RequestReset(context.Background(), "alice@campus.edu", RequestMeta{})
	if !errors.Is(err, ErrResetDeliveryFailed) || res.Success {
		t.Fatalf("RequestReset = %+v, %v", res, err)
	}
}

func TestPasswordResetConcurrentConfirmSingleWinner(t *testing.T) {
	f := newResetFixture(t, nil)
	ctx := context.Background()

	_, _ = f.svc.RequestReset(ctx, "alice@campus.edu", RequestMeta{})
	token := f.mailer.lastToken(t)

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := f.svc.ResetPassword(ctx, token, "Str0ng!Passw0rd", RequestMeta{}); err == nil && res.Success {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("successful resets = %d, want 1", got)
	}
	if f.users.updates != 1 {
		t.Fatalf("password updates = %d, want 1", f.users.updates)
	}
}

func TestPasswordResetDisabled(t *testing.T) {
	f := newResetFixture(t, func(c *PasswordResetConfig) { c.Enabled = false })

	if _, err := f.svc.RequestReset(context.Background(), "alice@campus.edu", RequestMeta{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
}

func TestNewPasswordResetServiceRequiresCollaborators(t *testing.T) {
	clock := newTestClock()
	_, err := NewPasswordResetService(newTestMemory(clock), DefaultConfig().PasswordReset, DefaultConfig().Password, nil, &recordingMailer{}, nil)
	if !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
}
