package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/souche/internal/domain/repository"
	"github.com/dropDatabas3/souche/internal/jwt"
	tokens "github.com/dropDatabas3/souche/internal/security/token"
)

// fakeTokenRepo es un TokenRepository en memoria para tests.
type fakeTokenRepo struct {
	mu   sync.Mutex
	rows map[string]*repository.RefreshToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{rows: map[string]*repository.RefreshToken{}}
}

func (f *fakeTokenRepo) Create(_ context.Context, in repository.CreateRefreshTokenInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[in.ID]; ok {
		return repository.ErrConflict
	}
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
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
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
	if row.IsRevoked {
		return nil // idempotente: no pisa la revocación original
	}
	now := time.Now().UTC()
	row.IsRevoked = true
	row.RevokedAt = &now
	row.RevokedReason = &reason
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
		if !now.Before(row.ExpiresAt) {
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

func newTestManager(t *testing.T) (*Manager, *fakeTokenRepo) {
	t.Helper()
	codec := jwt.NewCodec(
		"access-secret-0123456789-0123456789-ab",
		"refresh-secret-0123456789-0123456789-a",
		15*time.Minute, time.Hour,
	)
	repo := newFakeTokenRepo()
	return NewManager(repo, codec), repo
}

const testUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Mobile"

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	m, repo := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, 42, "10.0.0.1", testUA, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	row, claims, err := m.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if row.ID != issued.ID || claims.TokenID != issued.ID {
		t.Fatalf("ids no coinciden: fila=%s claims=%s emitido=%s", row.ID, claims.TokenID, issued.ID)
	}
	if row.UserID != 42 {
		t.Fatalf("user_id = %d", row.UserID)
	}
	// deviceType vacío se infiere del UA.
	if row.DeviceType != tokens.DeviceMobile {
		t.Fatalf("device_type = %q", row.DeviceType)
	}
	// La IP nunca queda en claro.
	if row.IPAddress == "10.0.0.1" {
		t.Fatal("la IP quedó en claro en la fila")
	}
	// El hash persistido es el del JWT, no el placeholder.
	stored, _ := repo.GetByID(ctx, issued.ID)
	if stored.TokenHash != tokens.SHA256Hex(issued.Token) {
		t.Fatalf("token_hash = %q", stored.TokenHash)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	other, _ := newTestManager(t)
	ctx := context.Background()

	// Firmado con los mismos secretos pero la fila vive en otro repo.
	issued, err := other.Issue(ctx, 1, "", "", "desktop")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, _, err = m.Verify(ctx, issued.Token)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, esperaba ErrTokenNotFound", err)
	}
}

// Un token revocado nunca vuelve a verificar, y re-revocarlo no es error.
func TestRevokePermanentAndIdempotent(t *testing.T) {
	t.Parallel()
	m, repo := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, 7, "10.0.0.1", testUA, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Revoke(ctx, issued.ID, "logout"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, err := m.Verify(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("err = %v, esperaba ErrTokenRevoked", err)
	}

	// Segunda revocación: sin error, sin pisar la razón original.
	if err := m.Revoke(ctx, issued.ID, "password_change"); err != nil {
		t.Fatalf("Revoke idempotente: %v", err)
	}
	row, _ := repo.GetByID(ctx, issued.ID)
	if row.RevokedReason == nil || *row.RevokedReason != "logout" {
		t.Fatalf("revoked_reason = %v, esperaba la original", row.RevokedReason)
	}
}

func TestRevokeAllScopedToUser(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	a1, _ := m.Issue(ctx, 1, "", testUA, "")
	a2, _ := m.Issue(ctx, 1, "", testUA, "")
	b1, _ := m.Issue(ctx, 2, "", testUA, "")

	n, err := m.RevokeAll(ctx, 1, "logout_all")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("revocados = %d, esperaba 2", n)
	}

	for _, raw := range []string{a1.Token, a2.Token} {
		if _, _, err := m.Verify(ctx, raw); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("token del usuario 1 sigue válido: %v", err)
		}
	}
	// El usuario 2 no se toca.
	if _, _, err := m.Verify(ctx, b1.Token); err != nil {
		t.Fatalf("token del usuario 2 afectado: %v", err)
	}

	// Repetir sobre un usuario ya barrido: cero, sin error.
	n, err = m.RevokeAll(ctx, 1, "logout_all")
	if err != nil || n != 0 {
		t.Fatalf("RevokeAll repetido: n=%d err=%v", n, err)
	}
}

func TestMarkUsed(t *testing.T) {
	t.Parallel()
	m, repo := newTestManager(t)
	ctx := context.Background()

	issued, _ := m.Issue(ctx, 5, "", testUA, "")
	if err := m.MarkUsed(ctx, issued.ID); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := m.MarkUsed(ctx, issued.ID); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	row, _ := repo.GetByID(ctx, issued.ID)
	if row.UsageCount != 2 {
		t.Fatalf("usage_count = %d", row.UsageCount)
	}
	if row.LastUsedAt == nil {
		t.Fatal("last_used_at sigue nil")
	}
}

func TestSweeps(t *testing.T) {
	t.Parallel()
	m, repo := newTestManager(t)
	ctx := context.Background()

	live, _ := m.Issue(ctx, 1, "", testUA, "")
	dead, _ := m.Issue(ctx, 1, "", testUA, "")
	old, _ := m.Issue(ctx, 1, "", testUA, "")

	// Forzar estados directamente en el fake.
	repo.mu.Lock()
	repo.rows[dead.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	past := time.Now().UTC().Add(-31 * 24 * time.Hour)
	repo.rows[old.ID].IsRevoked = true
	repo.rows[old.ID].RevokedAt = &past
	repo.mu.Unlock()

	n, err := m.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired: n=%d err=%v", n, err)
	}
	n, err = m.SweepOldRevoked(ctx, 30*24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("SweepOldRevoked: n=%d err=%v", n, err)
	}
	if _, _, err := m.Verify(ctx, live.Token); err != nil {
		t.Fatalf("el token vivo fue barrido: %v", err)
	}
}
