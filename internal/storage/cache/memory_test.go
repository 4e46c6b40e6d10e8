package cache

import (
	"context"
	"testing"
	"time"

	"media-platform/pkg/errors"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "k1", []float32{0.5, 0.25}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v []float32
	if err := s.Get(ctx, "k1", &v); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(v) != 2 || v[0] != 0.5 {
		t.Errorf("Get: got %v", v)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Get(ctx, "k1", &v); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	var v string
	if err := s.Get(context.Background(), "missing", &v); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.Set(ctx, "k", "v", time.Second)
	s.mu.Lock()
	s.items["k"].expiresAt = time.Now().Add(-time.Second).Unix()
	s.mu.Unlock()

	var v string
	if err := s.Get(ctx, "k", &v); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get expired = %v, want ErrNotFound", err)
	}
	ok, _ := s.Exists(ctx, "k")
	if ok {
		t.Error("Exists expired should be false")
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "a", 1, 0)
	_ = s.Set(ctx, "b", 2, 0)

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ok, _ := s.Exists(ctx, "a")
	if ok {
		t.Error("Exists after Clear should be false")
	}
}
