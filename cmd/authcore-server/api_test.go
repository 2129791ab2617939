package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/password"
	"github.com/campusreach/authcore/userstore"
)

type capturedMail struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *capturedMail) SendPasswordReset(_ context.Context, to, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[to] = token
	return nil
}

func (m *capturedMail) SendPasswordChanged(context.Context, string) error { return nil }

func (m *capturedMail) token(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[to]
}

type testServer struct {
	srv   *httptest.Server
	mail  *capturedMail
	users *userstore.Memory
}

func newTestServer(t *testing.T, mutate func(*authcore.Config)) *testServer {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Password.BcryptCost = password.MinCost
	cfg.PasswordReset.EnumerationDelayMin = 0
	cfg.PasswordReset.EnumerationDelayMax = 0
	cfg.RateLimit.Policies[authcore.ClassAuthRegister] = authcore.RatePolicy{MaxRequests: 20, Window: time.Hour}
	cfg.RateLimit.Policies[authcore.ClassAuthPasswordReset] = authcore.RatePolicy{MaxRequests: 20, Window: time.Hour}
	if mutate != nil {
		mutate(&cfg)
	}

	users := userstore.NewMemory()
	mail := &capturedMail{}
	logger := log.New(io.Discard, "", 0)

	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserStore(users).
		WithEmailSender(mail).
		WithLogger(logger).
		Build()
	require.NoError(t, err)
	engine.Start(context.Background())
	t.Cleanup(engine.Shutdown)

	a, err := newAPI(engine, users, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(a.routes(http.NotFoundHandler()))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mail: mail, users: users}
}

func (s *testServer) do(t *testing.T, method, path, session string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "api-test/1.0")
	if session != "" {
		req.Header.Set("Authorization", "Session "+session)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *testServer) register(t *testing.T, email, pw string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/auth/register", "", credentials{Email: email, Password: pw})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["sessionId"].(string)
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "Alice@Campus.edu", "Str0ng!Pass")

	resp, body := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "alice@campus.edu", Password: "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := body["sessionId"].(string)
	assert.Len(t, sid, 43)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp, body = s.do(t, http.MethodGet, "/api/me", sid, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@campus.edu", body["email"])
	assert.EqualValues(t, 2, body["loginCount"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "bob@campus.edu", "Str0ng!Pass")

	resp, _ := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "bob@campus.edu", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "nobody@campus.edu", Password: "Str0ng!Pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid email or password.", body["error"])
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "dup@campus.edu", "Str0ng!Pass")

	resp, _ := s.do(t, http.MethodPost, "/auth/register", "", credentials{Email: "dup@campus.edu", Password: "Str0ng!Pass"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/auth/register", "", credentials{Email: "weak@campus.edu", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["violations"])
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *authcore.Config) {
		c.RateLimit.Policies[authcore.ClassAuthLogin] = authcore.RatePolicy{MaxRequests: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "x@campus.edu", Password: "nope"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, body := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "x@campus.edu", Password: "nope"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "Too many requests", body["error"])
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestLogoutAndLogoutAll(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.register(t, "carol@campus.edu", "Str0ng!Pass")
	_, body := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "carol@campus.edu", Password: "Str0ng!Pass"})
	second := body["sessionId"].(string)
	_, body = s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "carol@campus.edu", Password: "Str0ng!Pass"})
	third := body["sessionId"].(string)

	resp, _ := s.do(t, http.MethodPost, "/auth/logout", first, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/me", first, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/auth/logout-all", second, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["revoked"])

	resp, _ = s.do(t, http.MethodGet, "/api/me", third, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListAndRevokeSessions(t *testing.T) {
	s := newTestServer(t, nil)
	current := s.register(t, "dana@campus.edu", "Str0ng!Pass")
	_, body := s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "dana@campus.edu", Password: "Str0ng!Pass"})
	other := body["sessionId"].(string)

	resp, body := s.do(t, http.MethodGet, "/api/sessions", current, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["sessions"].([]any)
	require.Len(t, list, 2)

	var otherHandle string
	for _, raw := range list {
		v := raw.(map[string]any)
		if !v["current"].(bool) {
			otherHandle = v["handle"].(string)
		}
	}
	require.NotEmpty(t, otherHandle)

	resp, _ = s.do(t, http.MethodDelete, "/api/sessions/"+otherHandle, current, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/me", other, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, "/api/sessions/"+otherHandle, current, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, nil)
	old := s.register(t, "erin@campus.edu", "Str0ng!Pass")

	resp, body := s.do(t, http.MethodPost, "/auth/password-reset/request", "", map[string]string{"email": "erin@campus.edu"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, unknown := s.do(t, http.MethodPost, "/auth/password-reset/request", "", map[string]string{"email": "ghost@campus.edu"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, unknown)

	token := s.mail.token("erin@campus.edu")
	require.NotEmpty(t, token)

	resp, body = s.do(t, http.MethodPost, "/auth/password-reset/verify", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "erin@campus.edu", body["email"])

	resp, body = s.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]string{"token": token, "newPassword": "weak"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["violations"])

	resp, _ = s.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]string{"token": token, "newPassword": "N3w!Password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/me", old, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]string{"token": token, "newPassword": "An0ther!Pass"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/auth/login", "", credentials{Email: "erin@campus.edu", Password: "N3w!Password"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetDisabled(t *testing.T) {
	s := newTestServer(t, func(c *authcore.Config) { c.PasswordReset.Enabled = false })

	resp, _ := s.do(t, http.MethodPost, "/auth/password-reset/request", "", map[string]string{"email": "a@campus.edu"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
