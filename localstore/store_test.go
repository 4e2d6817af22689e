package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T, namespace string) (*Redis, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedis(rdb, "as", namespace, 0)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func newSQLiteStoreTest(t *testing.T, namespace string) *SQLite {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "local.db"), namespace)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "isAuthenticated", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "userRole", "viewer"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "userRole", "admin"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, ok, err := store.Get(ctx, "userRole"); err != nil || !ok || v != "admin" {
		t.Fatalf("Get(userRole) = %q ok=%v err=%v", v, ok, err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "isAuthenticated" || keys[1] != "userRole" {
		t.Fatalf("Keys = %v", keys)
	}

	if err := store.Remove(ctx, "userRole"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(ctx, "userRole"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "userRole"); ok {
		t.Fatal("removed key still present")
	}

	if err := store.Set(ctx, "", "x"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Set(empty) err = %v", err)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	keys, err = store.Keys(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("Keys after ClearAll = %v, %v", keys, err)
	}
	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll on empty store: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisStore(t *testing.T) {
	store, _, done := newRedisStoreTest(t, "durable")
	defer done()
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newSQLiteStoreTest(t, "durable"))
}

func TestRedisClearAllIsNamespaced(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	a := NewRedis(rdb, "as", "a", 0)
	b := NewRedis(rdb, "as", "b", 0)
	if err := a.Set(ctx, "k", "1"); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := b.Set(ctx, "k", "2"); err != nil {
		t.Fatalf("Set b: %v", err)
	}
	if err := a.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll a: %v", err)
	}
	if v, ok, _ := b.Get(ctx, "k"); !ok || v != "2" {
		t.Fatalf("namespace b affected by clearing a: %q ok=%v", v, ok)
	}
}

func TestRedisKeysPrunesExpired(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	store := NewRedis(rdb, "as", "ttl", time.Minute)
	if err := store.Set(ctx, "lastTokenRefresh", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("Keys = %v, want none after expiry", keys)
	}
	if n, _ := rdb.SCard(ctx, store.indexKey()).Result(); n != 0 {
		t.Fatalf("index still holds %d members", n)
	}
}

func TestRedisUnavailableWrapsError(t *testing.T) {
	store, mr, done := newRedisStoreTest(t, "down")
	defer done()
	mr.Close()

	if err := store.Set(context.Background(), "k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set err = %v, want ErrUnavailable", err)
	}
	if _, _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get err = %v, want ErrUnavailable", err)
	}
}

func TestSQLiteNamespacesShareFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	if err := a.Set(ctx, "k", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, err := NewSQLite(ctx, a.db, "b")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatal("namespace b sees namespace a's key")
	}
	if err := b.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll b: %v", err)
	}
	if v, ok, _ := a.Get(ctx, "k"); !ok || v != "1" {
		t.Fatalf("namespace a lost its key: %q ok=%v", v, ok)
	}
}
