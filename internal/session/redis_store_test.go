package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pirhub/api/internal/docstore"
	"pirhub/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	users := store.New(docstore.NewMemoryStore())
	rs, err := NewRedisStore("redis://"+mr.Addr(), users)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return rs, mr, users
}

func TestNewRedisStorePing(t *testing.T) {
	rs, mr, _ := setupTestRedis(t)
	defer rs.Close()
	defer mr.Close()

	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, mr, users := setupTestRedis(t)
	defer rs.Close()
	defer mr.Close()

	ctx := context.Background()
	user, err := users.CreateUser(ctx, store.User{DisplayName: "Avery", Email: "avery@example.com", Role: store.RoleRequester})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	tokenHash := "test-token-hash"
	if err := rs.SaveRefreshSession(ctx, tokenHash, user.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	got, err := rs.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != user.ID || got.Role != store.RoleRequester {
		t.Errorf("expected user %s, got %+v", user.ID, got)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, mr, users := setupTestRedis(t)
	defer rs.Close()
	defer mr.Close()

	ctx := context.Background()
	user, err := users.CreateUser(ctx, store.User{DisplayName: "Avery", Email: "avery@example.com", Role: store.RoleRequester})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	tokenHash := "expired-token"
	if err := rs.SaveRefreshSession(ctx, tokenHash, user.ID, time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	mr.FastForward(time.Second)

	if _, err := rs.LookupRefreshSession(ctx, tokenHash); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, mr, users := setupTestRedis(t)
	defer rs.Close()
	defer mr.Close()

	ctx := context.Background()
	user, err := users.CreateUser(ctx, store.User{DisplayName: "Avery", Email: "avery@example.com", Role: store.RoleRequester})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	tokenHash := "revoked-token"
	if err := rs.SaveRefreshSession(ctx, tokenHash, user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, tokenHash); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, tokenHash); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	rs, mr, _ := setupTestRedis(t)
	defer rs.Close()
	defer mr.Close()

	err := rs.SaveRefreshSession(context.Background(), "hash", "user-1", time.Now().Add(-time.Minute))
	if err == nil {
		t.Fatal("expected error for already-expired token")
	}
}
