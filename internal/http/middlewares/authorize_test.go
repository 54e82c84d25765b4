package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/dropDatabas3/souche/internal/audit"
	"github.com/dropDatabas3/souche/internal/authz"
	"github.com/dropDatabas3/souche/internal/domain/repository"
)

type stubLoader struct {
	contexts map[int64]*authz.UserContext
	err      error
}

func (s *stubLoader) LoadUserContext(_ context.Context, userID int64) (*authz.UserContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	if uc, ok := s.contexts[userID]; ok {
		return uc, nil
	}
	return nil, fmt.Errorf("load user context: %w", repository.ErrNotFound)
}

type captureAudit struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
}

func (c *captureAudit) Insert(_ context.Context, e repository.AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureAudit) lastAction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[len(c.entries)-1].Action
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// serve ejecuta el middleware con un sujeto ya autenticado en el contexto.
func serve(t *testing.T, mw Middleware, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/users/42", nil)
	if userID != 0 {
		req = req.WithContext(WithSubject(req.Context(), &Subject{UserID: userID, Email: "u@example.com"}))
	}
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	return rec
}

func newStubAuthorizer(auditor *captureAudit) *Authorizer {
	loader := &stubLoader{contexts: map[int64]*authz.UserContext{
		1: {
			UserID:      1,
			Email:       "u@example.com",
			Roles:       []string{"manager"},
			Permissions: []string{"users:read", "profiles:*"},
		},
		2: {
			UserID: 2,
			Email:  "sin@example.com",
			Roles:  []string{"guest"},
		},
	}}
	var sink *audit.Logger
	if auditor != nil {
		sink = audit.NewLogger(auditor)
	}
	return NewAuthorizer(loader, sink)
}

func TestAuthorizeWithoutSubject(t *testing.T) {
	t.Parallel()
	a := newStubAuthorizer(nil)

	rec := serve(t, a.Authorize([]string{"users:read"}, AuthorizeOptions{}), 0)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sin sujeto: status = %d, quería 401", rec.Code)
	}
}

func TestAuthorizeGrantAndDeny(t *testing.T) {
	t.Parallel()
	auditor := &captureAudit{}
	a := newStubAuthorizer(auditor)

	// Permiso exacto: pasa.
	rec := serve(t, a.Authorize([]string{"users:read"}, AuthorizeOptions{Audit: true}), 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("permiso exacto: status = %d", rec.Code)
	}
	if got := auditor.lastAction(); got != audit.ActionAccessGranted {
		t.Fatalf("auditoría = %q, quería %q", got, audit.ActionAccessGranted)
	}

	// Wildcard de recurso: pasa.
	if rec := serve(t, a.Authorize([]string{"profiles:delete"}, AuthorizeOptions{}), 1); rec.Code != http.StatusOK {
		t.Fatalf("wildcard de recurso: status = %d", rec.Code)
	}

	// Sin el permiso: 403 con la razón en el detalle.
	rec = serve(t, a.Authorize([]string{"users:delete"}, AuthorizeOptions{Audit: true}), 1)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sin permiso: status = %d, quería 403", rec.Code)
	}
	if got := auditor.lastAction(); got != audit.ActionAccessDenied {
		t.Fatalf("auditoría = %q, quería %q", got, audit.ActionAccessDenied)
	}

	// RequireAll: tener uno solo de los dos no alcanza.
	rec = serve(t, a.Authorize([]string{"users:read", "users:delete"}, AuthorizeOptions{RequireAll: true}), 1)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("requireAll parcial: status = %d, quería 403", rec.Code)
	}
	// En modo OR sí alcanza.
	rec = serve(t, a.Authorize([]string{"users:read", "users:delete"}, AuthorizeOptions{}), 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("modo OR: status = %d", rec.Code)
	}
}

func TestAuthorizeOwnerShortCircuit(t *testing.T) {
	t.Parallel()
	auditor := &captureAudit{}
	a := newStubAuthorizer(auditor)

	owner := func(r *http.Request) (int64, error) {
		return strconv.ParseInt(r.URL.Path[len("/v1/users/"):], 10, 64)
	}

	// El usuario 2 no tiene permisos, pero si el recurso es suyo entra.
	req := httptest.NewRequest(http.MethodGet, "/v1/users/2", nil)
	req = req.WithContext(WithSubject(req.Context(), &Subject{UserID: 2}))
	rec := httptest.NewRecorder()
	a.Authorize([]string{"users:read"}, AuthorizeOptions{AllowOwner: owner, Audit: true})(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dueño del recurso: status = %d", rec.Code)
	}
	if got := auditor.lastAction(); got != audit.ActionAccessGrantedOwner {
		t.Fatalf("auditoría = %q, quería %q", got, audit.ActionAccessGrantedOwner)
	}

	// Sobre el recurso de otro, sin permisos: 403.
	rec = serve(t, a.Authorize([]string{"users:read"}, AuthorizeOptions{AllowOwner: owner}), 2)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("recurso ajeno sin permisos: status = %d, quería 403", rec.Code)
	}
}

func TestAuthorizeUnknownUserIs404(t *testing.T) {
	t.Parallel()
	a := newStubAuthorizer(nil)

	rec := serve(t, a.Authorize([]string{"users:read"}, AuthorizeOptions{}), 99)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("usuario inexistente: status = %d, quería 404", rec.Code)
	}
}

func TestRequireRoleVariants(t *testing.T) {
	t.Parallel()
	a := newStubAuthorizer(nil)

	if rec := serve(t, a.RequireRole([]string{"manager", "admin"}, AuthorizeOptions{}), 1); rec.Code != http.StatusOK {
		t.Fatalf("RequireRole con rol presente: status = %d", rec.Code)
	}
	if rec := serve(t, a.RequireRole([]string{"admin"}, AuthorizeOptions{}), 1); rec.Code != http.StatusForbidden {
		t.Fatalf("RequireRole sin el rol: status = %d, quería 403", rec.Code)
	}
	if rec := serve(t, a.RequireAllRoles([]string{"manager"}, AuthorizeOptions{}), 1); rec.Code != http.StatusOK {
		t.Fatalf("RequireAllRoles con todos: status = %d", rec.Code)
	}
	if rec := serve(t, a.RequireAllRoles([]string{"manager", "admin"}, AuthorizeOptions{}), 1); rec.Code != http.StatusForbidden {
		t.Fatalf("RequireAllRoles incompleto: status = %d, quería 403", rec.Code)
	}
}

func TestRequireOwnership(t *testing.T) {
	t.Parallel()
	a := newStubAuthorizer(nil)

	byPath := func(r *http.Request) (int64, error) {
		return strconv.ParseInt(r.URL.Path[len("/v1/users/"):], 10, 64)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/1", nil)
	req = req.WithContext(WithSubject(req.Context(), &Subject{UserID: 1}))
	rec := httptest.NewRecorder()
	a.RequireOwnership(byPath, AuthorizeOptions{})(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dueño: status = %d", rec.Code)
	}

	// 42 no es el sujeto 1.
	if rec := serve(t, a.RequireOwnership(byPath, AuthorizeOptions{}), 1); rec.Code != http.StatusForbidden {
		t.Fatalf("recurso ajeno: status = %d, quería 403", rec.Code)
	}

	// Owner id imposible de extraer: 400.
	bad := func(*http.Request) (int64, error) { return 0, fmt.Errorf("no id") }
	if rec := serve(t, a.RequireOwnership(bad, AuthorizeOptions{}), 1); rec.Code != http.StatusBadRequest {
		t.Fatalf("owner id inválido: status = %d, quería 400", rec.Code)
	}
}
