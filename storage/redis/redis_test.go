package redis

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mcpstream/streamcore/storage"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c, err := New(Config{Client: client})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetGetRoundtrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "answer", []byte("42"), storage.WithSession("s1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	item, err := c.Get(ctx, "answer", storage.WithSession("s1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item == nil || !bytes.Equal(item.Data, []byte("42")) {
		t.Fatalf("unexpected item %+v", item)
	}

	if item, _ := c.Get(ctx, "answer"); item != nil {
		t.Fatal("global scope must not see session keys")
	}
	if item, _ := c.Get(ctx, "answer", storage.WithSession("other")); item != nil {
		t.Fatal("other session must not see s1 keys")
	}
}

func TestTTLSetsRedisExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "soon", []byte("x"), storage.WithTTL(time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if item, _ := c.Get(ctx, "soon"); item == nil {
		t.Fatal("expected item before expiry")
	}

	mr.FastForward(2 * time.Minute)

	item, err := c.Get(ctx, "soon")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if item != nil {
		t.Fatalf("expected expired item gone, got %+v", item)
	}
}

func TestDeleteScope(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, k, []byte(k), storage.WithSession("s1")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := c.Set(ctx, "a", []byte("keep"), storage.WithSession("s2")); err != nil {
		t.Fatalf("set s2: %v", err)
	}

	if err := c.Delete(ctx, storage.WithSession("s1")); err != nil {
		t.Fatalf("delete scope: %v", err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if item, _ := c.Get(ctx, k, storage.WithSession("s1")); item != nil {
			t.Fatalf("expected s1/%s gone", k)
		}
	}
	if item, _ := c.Get(ctx, "a", storage.WithSession("s2")); item == nil {
		t.Fatal("expected s2 untouched")
	}

	for _, key := range mr.Keys() {
		if strings.Contains(key, ":session:s1:") {
			t.Fatalf("leftover key %q", key)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c, err := New(Config{Client: client, KeyPrefix: "custom:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "custom:") {
		t.Fatalf("unexpected keys %v", keys)
	}
}
