package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/souche/internal/audit"
	"github.com/dropDatabas3/souche/internal/authz"
	"github.com/dropDatabas3/souche/internal/domain/repository"
	authctrl "github.com/dropDatabas3/souche/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/souche/internal/http/controllers/health"
	dto "github.com/dropDatabas3/souche/internal/http/dto/auth"
	mw "github.com/dropDatabas3/souche/internal/http/middlewares"
	authsvc "github.com/dropDatabas3/souche/internal/http/services/auth"
	jwtx "github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/rate"
	"github.com/dropDatabas3/souche/internal/security/password"
	"github.com/dropDatabas3/souche/internal/session"
	"github.com/dropDatabas3/souche/internal/token"
)

// ─── Fakes in-memory ───

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*repository.User
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type fakeTokenRepo struct {
	mu   sync.Mutex
	rows map[string]*repository.RefreshToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{rows: make(map[string]*repository.RefreshToken)}
}

func (f *fakeTokenRepo) Create(_ context.Context, in repository.CreateRefreshTokenInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[in.ID] = &repository.RefreshToken{
		ID:         in.ID,
		UserID:     in.UserID,
		TokenHash:  in.TokenHash,
		DeviceType: in.DeviceType,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		ExpiresAt:  in.ExpiresAt,
		CreatedAt:  time.Now().UTC(),
	}
	return nil
}

func (f *fakeTokenRepo) UpdateHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.TokenHash = hash
	return nil
}

func (f *fakeTokenRepo) GetByHash(_ context.Context, hash string) (*repository.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.TokenHash == hash {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTokenRepo) GetByID(_ context.Context, id string) (*repository.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTokenRepo) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.UsageCount++
	row.LastUsedAt = &usedAt
	return nil
}

func (f *fakeTokenRepo) Revoke(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !row.IsRevoked {
		now := time.Now().UTC()
		row.IsRevoked = true
		row.RevokedAt = &now
		row.RevokedReason = &reason
	}
	return nil
}

func (f *fakeTokenRepo) RevokeAllByUser(_ context.Context, userID int64, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, row := range f.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &now
			row.RevokedReason = &reason
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, row := range f.rows {
		if row.ExpiresAt.Before(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, row := range f.rows {
		if row.IsRevoked && row.RevokedAt != nil && row.RevokedAt.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type fakeSessionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*repository.UserSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: make(map[int64]*repository.UserSession)}
}

func (f *fakeSessionRepo) Create(_ context.Context, in repository.CreateSessionInput) (*repository.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := &repository.UserSession{
		ID:           f.nextID,
		UserID:       in.UserID,
		TokenHash:    in.TokenHash,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		IsActive:     true,
		LastActivity: time.Now().UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	f.rows[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) GetActiveByTokenHash(_ context.Context, hash string) (*repository.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TokenHash == hash && s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessionRepo) UpdateActivity(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.LastActivity = at
	return nil
}

func (f *fakeSessionRepo) Deactivate(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TokenHash == hash {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeactivateAllByUser(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) DeactivateIdleSince(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.IsActive && s.LastActivity.Before(cutoff) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
}

func (f *fakeAuditRepo) Insert(_ context.Context, e repository.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type fakeLoader struct {
	contexts map[int64]*authz.UserContext
}

func (f *fakeLoader) LoadUserContext(_ context.Context, userID int64) (*authz.UserContext, error) {
	if uc, ok := f.contexts[userID]; ok {
		return uc, nil
	}
	return nil, fmt.Errorf("load user context: %w", repository.ErrNotFound)
}

// ─── Armado del stack ───

type env struct {
	handler  http.Handler
	users    *fakeUserRepo
	tokens   *fakeTokenRepo
	sessions *fakeSessionRepo
	auditor  *fakeAuditRepo
}

const (
	testEmail    = "admin@example.com"
	testPassword = "s3cret-pass"
)

func newTestEnv(t *testing.T, limiter rate.Limiter) *env {
	t.Helper()

	hash, err := password.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash fixture: %v", err)
	}

	profileID := int64(7)
	users := &fakeUserRepo{users: map[int64]*repository.User{
		1: {ID: 1, Email: testEmail, PasswordHash: hash, ProfileID: &profileID, IsActive: true},
	}}
	tokens := newFakeTokenRepo()
	sessions := newFakeSessionRepo()
	auditRepo := &fakeAuditRepo{}

	codec := jwtx.NewCodec(
		"access-secret-abcdefghijklmnopqrstuvwxyz-0123",
		"refresh-secret-abcdefghijklmnopqrstuvwxyz-0123",
		15*time.Minute, 168*time.Hour,
	)
	manager := token.NewManager(tokens, codec)
	tracker := session.NewTracker(sessions, time.Hour)
	auditor := audit.NewLogger(auditRepo)

	service := authsvc.NewService(authsvc.Deps{
		Users:    users,
		Tokens:   manager,
		Sessions: tracker,
		Codec:    codec,
		Auditor:  auditor,
	})

	loader := &fakeLoader{contexts: map[int64]*authz.UserContext{
		1: {
			UserID:      1,
			Email:       testEmail,
			ProfileID:   &profileID,
			Roles:       []string{"admin"},
			Permissions: []string{"users:read", "users:update"},
		},
	}}

	handler := New(Deps{
		Auth:         authctrl.NewController(service),
		Health:       healthctrl.NewController(nil),
		Authorizer:   mw.NewAuthorizer(loader, auditor),
		Codec:        codec,
		Sessions:     tracker,
		LoginLimiter: limiter,
	})

	return &env{handler: handler, users: users, tokens: tokens, sessions: sessions, auditor: auditRepo}
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return v
}

// ─── Tests ───

// El flujo completo: login → endpoint protegido → refresh → logout → 401.
func TestAuthFlowEndToEnd(t *testing.T) {
	e := newTestEnv(t, nil)

	// Credenciales malas: 401 y sin tokens.
	rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
		Email: testEmail, Password: "nope",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login con password mala: status = %d, quería 401", rec.Code)
	}

	// Login correcto.
	rec = e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
		Email: testEmail, Password: testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	pair := decodeBody[dto.TokenPairResponse](t, rec)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login no devolvió el par de tokens")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("tokenType = %q, quería Bearer", pair.TokenType)
	}

	// /me sin token: 401.
	if rec := e.do(t, http.MethodGet, "/v1/auth/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("/me sin token: status = %d, quería 401", rec.Code)
	}

	// /me con el access token: contexto resuelto.
	rec = e.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	me := decodeBody[dto.MeResponse](t, rec)
	if me.UserID != 1 || me.Email != testEmail {
		t.Fatalf("/me devolvió identidad equivocada: %+v", me)
	}
	if len(me.Roles) != 1 || me.Roles[0] != "admin" {
		t.Fatalf("roles = %v, quería [admin]", me.Roles)
	}

	// Refresh: access nuevo, el refresh presentado no rota.
	rec = e.do(t, http.MethodPost, "/v1/auth/refresh", "", dto.RefreshRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	refreshed := decodeBody[dto.RefreshResponse](t, rec)
	if refreshed.AccessToken == "" || refreshed.AccessToken == pair.AccessToken {
		t.Fatal("refresh no emitió un access token nuevo")
	}

	// El access nuevo también abre sesión.
	if rec := e.do(t, http.MethodGet, "/v1/auth/me", refreshed.AccessToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("/me con access refrescado: status = %d", rec.Code)
	}

	// Logout con el access original: revoca el refresh y apaga su sesión.
	rec = e.do(t, http.MethodPost, "/v1/auth/logout", pair.AccessToken, dto.LogoutRequest{RefreshToken: pair.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// La sesión del access original quedó muerta.
	if rec := e.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("/me tras logout: status = %d, quería 401", rec.Code)
	}

	// El refresh revocado ya no sirve.
	if rec := e.do(t, http.MethodPost, "/v1/auth/refresh", "", dto.RefreshRequest{RefreshToken: pair.RefreshToken}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh revocado: status = %d, quería 401", rec.Code)
	}

	// La auditoría registró el viaje completo.
	actions := e.auditor.actions()
	want := map[string]bool{}
	for _, a := range actions {
		want[a] = true
	}
	for _, a := range []string{audit.ActionLoginFailed, audit.ActionLoginSuccess, audit.ActionTokenRefresh, audit.ActionLogout} {
		if !want[a] {
			t.Errorf("auditoría sin acción %q (hubo: %v)", a, actions)
		}
	}
}

func TestLogoutAllClosesEverything(t *testing.T) {
	e := newTestEnv(t, nil)

	// Dos logins: dos refresh tokens y dos sesiones vivas.
	var pairs []dto.TokenPairResponse
	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
			Email: testEmail, Password: testPassword,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("login %d: status = %d", i, rec.Code)
		}
		pairs = append(pairs, decodeBody[dto.TokenPairResponse](t, rec))
	}

	rec := e.do(t, http.MethodPost, "/v1/auth/logout-all", pairs[0].AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout-all: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	out := decodeBody[dto.LogoutAllResponse](t, rec)
	if out.RevokedTokens != 2 || out.ClosedSessions != 2 {
		t.Fatalf("logout-all cerró %d tokens / %d sesiones, quería 2/2", out.RevokedTokens, out.ClosedSessions)
	}

	// Ninguna de las dos sesiones sobrevive.
	for i, p := range pairs {
		if rec := e.do(t, http.MethodGet, "/v1/auth/me", p.AccessToken, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("/me con access %d tras logout-all: status = %d, quería 401", i, rec.Code)
		}
	}
}

func TestChangePasswordRevokesOldCredentials(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
		Email: testEmail, Password: testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d", rec.Code)
	}
	pair := decodeBody[dto.TokenPairResponse](t, rec)

	// Contraseña actual equivocada: 401.
	rec = e.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken, dto.ChangePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "otra-clave-larga",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("password con actual mala: status = %d, quería 401", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken, dto.ChangePasswordRequest{
		CurrentPassword: testPassword, NewPassword: "otra-clave-larga",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("password: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Todo lo viejo quedó revocado: el refresh no sirve.
	if rec := e.do(t, http.MethodPost, "/v1/auth/refresh", "", dto.RefreshRequest{RefreshToken: pair.RefreshToken}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh tras cambio de contraseña: status = %d, quería 401", rec.Code)
	}

	// La contraseña nueva loguea.
	if rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
		Email: testEmail, Password: "otra-clave-larga",
	}); rec.Code != http.StatusOK {
		t.Fatalf("login con contraseña nueva: status = %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	// Ventana larga para que el test no cruce un corte de ventana.
	e := newTestEnv(t, rate.NewMemoryLimiter(2, time.Hour))

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
			Email: testEmail, Password: "nope",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("intento %d: status = %d, quería 401", i, rec.Code)
		}
	}

	rec := e.do(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{
		Email: testEmail, Password: testPassword,
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("tercer intento: status = %d, quería 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("respuesta 429 sin Retry-After")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	e := newTestEnv(t, nil)

	if rec := e.do(t, http.MethodGet, "/v1/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("ruta inexistente: status = %d, quería 404", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/v1/auth/login", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("método no permitido: status = %d, quería 405", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d", rec.Code)
	}
}
