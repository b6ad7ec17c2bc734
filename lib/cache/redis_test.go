package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, "hxlive:"), s
}

func TestRedisGetSet(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRedis(t)

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if _, err := r.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("Get(missing) error = %v, want ErrMiss", err)
	}

	if err := r.Set(ctx, "k", []byte("value"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !s.Exists("hxlive:k") {
		t.Error("key was not written with prefix")
	}
	got, err := r.Get(ctx, "k")
	if err != nil || string(got) != "value" {
		t.Errorf("Get() = %q, %v; want value, nil", got, err)
	}

	s.FastForward(2 * time.Minute)
	if _, err := r.Get(ctx, "k"); !IsMiss(err) {
		t.Errorf("Get() after ttl error = %v, want ErrMiss", err)
	}
}

func TestRedisAddDelete(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	ok, err := r.Add(ctx, "lock", []byte{1}, time.Second)
	if err != nil || !ok {
		t.Fatalf("first Add() = %v, %v", ok, err)
	}
	ok, _ = r.Add(ctx, "lock", []byte{1}, time.Second)
	if ok {
		t.Fatal("second Add() = true, want false")
	}
	if err := r.Delete(ctx, "lock"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ok, _ = r.Add(ctx, "lock", []byte{1}, time.Second)
	if !ok {
		t.Error("Add() after Delete = false, want true")
	}
}

func TestRedisList(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	for _, v := range []string{"1", "2", "3"} {
		if _, err := r.Push(ctx, "q", []byte(v), time.Minute); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	rest, err := r.PopFront(ctx, "q", 1)
	if err != nil {
		t.Fatalf("PopFront() error = %v", err)
	}
	if len(rest) != 2 || string(rest[0]) != "2" {
		t.Errorf("PopFront() = %q, want [2 3]", rest)
	}
	got, err := r.Range(ctx, "q")
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 2 || string(got[0]) != "2" || string(got[1]) != "3" {
		t.Errorf("Range() = %q, want [2 3]", got)
	}

	// Popping an empty list is not an error.
	_, _ = r.PopFront(ctx, "q", 10)
	if _, err := r.PopFront(ctx, "q", 1); err != nil {
		t.Errorf("PopFront() on empty list error = %v", err)
	}
}
