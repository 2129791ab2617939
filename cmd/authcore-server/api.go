package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/middleware"
	"github.com/campusreach/authcore/password"
	"github.com/campusreach/authcore/userstore"
)

// accountStore is satisfied by userstore.Memory and postgres.Store.
type accountStore interface {
	authcore.UserStore
	Create(ctx context.Context, email, passwordHash string) (authcore.UserRecord, error)
	FindByID(ctx context.Context, id string) (authcore.UserRecord, error)
}

type api struct {
	engine   *authcore.Engine
	accounts accountStore
	hasher   *password.Bcrypt
	policy   password.Policy
	logger   *log.Logger
	cookie   string
	secure   bool
	// dummyHash keeps failed logins for unknown emails as slow as real ones.
	dummyHash string
}

func newAPI(engine *authcore.Engine, accounts accountStore, logger *log.Logger) (*api, error) {
	cfg := engine.Config()
	hasher, err := password.NewBcrypt(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash("campusreach-timing-equalizer")
	if err != nil {
		return nil, err
	}

	return &api{
		engine:    engine,
		accounts:  accounts,
		hasher:    hasher,
		policy:    cfg.Password.Policy(),
		logger:    logger,
		cookie:    cfg.Session.CookieName,
		secure:    envOr("APP_ENV", "") == "production",
		dummyHash: dummy,
	}, nil
}

func (a *api) routes(metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithClientMeta)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", metrics)

	limited := middleware.RateLimit(a.engine.RateLimiter(), nil, nil)

	r.Route("/auth", func(r chi.Router) {
		r.Use(limited)
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Route("/password-reset", func(r chi.Router) {
			r.Use(a.requireReset)
			r.Post("/request", a.handleResetRequest)
			r.Post("/verify", a.handleResetVerify)
			r.Post("/confirm", a.handleResetConfirm)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(a.engine.Sessions(), middleware.SessionOptions{CookieName: a.cookie}))
			r.Post("/logout", a.handleLogout)
			r.Post("/logout-all", a.handleLogoutAll)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireSession(a.engine.Sessions(), middleware.SessionOptions{CookieName: a.cookie}))
		r.Use(limited)
		r.Get("/me", a.handleMe)
		r.Get("/sessions", a.handleListSessions)
		r.Delete("/sessions/{handle}", a.handleRevokeSession)
	})

	return r
}

func (a *api) requireReset(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.engine.PasswordReset() == nil {
			respondError(w, http.StatusNotFound, "Password reset is not available.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

type sessionView struct {
	Handle         string    `json:"handle"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "backing store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}
	email := authcore.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		respondError(w, http.StatusBadRequest, "A valid email address is required.")
		return
	}
	if v := a.policy.Violations(req.Password); len(v) > 0 {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success":    false,
			"error":      "Password does not meet requirements.",
			"violations": v,
		})
		return
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		a.internalError(w, "hash password", err)
		return
	}
	user, err := a.accounts.Create(r.Context(), email, hash)
	switch {
	case errors.Is(err, userstore.ErrEmailTaken):
		respondError(w, http.StatusConflict, "An account with this email already exists.")
		return
	case err != nil:
		a.internalError(w, "create account", err)
		return
	}

	a.startSession(w, r, user, http.StatusCreated)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, &req) {
		return
	}

	user, err := a.accounts.FindByEmail(r.Context(), authcore.NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, authcore.ErrUserNotFound) {
		a.internalError(w, "find account", err)
		return
	}

	encoded := user.PasswordHash
	if err != nil || encoded == "" {
		encoded = a.dummyHash
	}
	ok, verr := a.hasher.Verify(req.Password, encoded)
	if err != nil || verr != nil || !ok || user.Disabled {
		respondError(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}

	if a.hasher.NeedsRehash(user.PasswordHash) {
		if hash, err := a.hasher.Hash(req.Password); err == nil {
			if err := a.accounts.UpdatePassword(r.Context(), user.ID, hash); err != nil {
				a.logger.Printf("rehash %s: %v", user.ID, err)
			}
		}
	}

	a.startSession(w, r, user, http.StatusOK)
}

func (a *api) startSession(w http.ResponseWriter, r *http.Request, user authcore.UserRecord, status int) {
	res, err := a.engine.Sessions().Create(r.Context(), user.ID, map[string]string{"email": user.Email}, middleware.RequestMeta(r))
	if err != nil {
		a.storeError(w, "create session", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie,
		Value:    res.SessionID,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, status, sessionResponse{
		Success:   true,
		SessionID: res.SessionID,
		ExpiresAt: res.ExpiresAt,
		UserID:    user.ID,
	})
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.SessionIDFromContext(r.Context())
	if _, err := a.engine.Sessions().Delete(r.Context(), id); err != nil {
		a.storeError(w, "delete session", err)
		return
	}
	a.clearCookie(w)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *api) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	n, err := a.engine.Sessions().DeleteAllForUser(r.Context(), sess.UserID)
	if err != nil {
		a.storeError(w, "delete user sessions", err)
		return
	}
	a.clearCookie(w)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": n})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	user, err := a.accounts.FindByID(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, authcore.ErrUserNotFound) {
			respondError(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}
		a.internalError(w, "find account", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"loginCount": sess.LoginCount,
		"expiresAt":  sess.ExpiresAt,
	})
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	list, err := a.engine.Sessions().ListForUser(r.Context(), sess.UserID)
	if err != nil {
		a.storeError(w, "list sessions", err)
		return
	}

	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			Handle:         s.Handle,
			Current:        s.Handle == sess.Handle,
			CreatedAt:      s.CreatedAt,
			LastAccessedAt: s.LastAccessedAt,
			ExpiresAt:      s.ExpiresAt,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *api) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	ok, err := a.engine.Sessions().RevokeHandle(r.Context(), sess.UserID, chi.URLParam(r, "handle"))
	if err != nil {
		a.storeError(w, "revoke session", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *api) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.PasswordReset().RequestReset(r.Context(), req.Email, middleware.RequestMeta(r))
	a.respondReset(w, res, err)
}

func (a *api) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.PasswordReset().VerifyToken(r.Context(), req.Token, middleware.RequestMeta(r))
	a.respondReset(w, res, err)
}

func (a *api) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.PasswordReset().ResetPassword(r.Context(), req.Token, req.NewPassword, middleware.RequestMeta(r))
	a.respondReset(w, res, err)
}

// respondReset maps a reset outcome to a status code. The body is always the
// service's public result.
func (a *api) respondReset(w http.ResponseWriter, body any, err error) {
	var rl *authcore.RateLimitError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, body)
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfterSeconds(), 10))
		respondJSON(w, http.StatusTooManyRequests, body)
	case errors.Is(err, authcore.ErrValidation), errors.Is(err, authcore.ErrInvalidCredentialToken):
		respondJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, authcore.ErrEngineNotReady):
		respondJSON(w, http.StatusNotFound, body)
	default:
		a.logger.Printf("password reset: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, body)
	}
}

func (a *api) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, authcore.ErrBackingStoreUnavailable) {
		a.logger.Printf("%s: %v", op, err)
		respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	if errors.Is(err, authcore.ErrValidation) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.internalError(w, op, err)
}

func (a *api) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Printf("%s: %v", op, err)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

func (a *api) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body.")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"success": false, "error": msg})
}
