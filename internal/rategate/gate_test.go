package rategate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassAPI:   {Limit: 3, Window: 60 * time.Second},
		ClassVoice: {Limit: 1, Window: 60 * time.Second},
	}
}

func TestSlidingWindow(t *testing.T) {
	gate := New(testPolicies())
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}

	err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(3*time.Second))
	if err == nil {
		t.Fatal("expected denial on 4th call inside window")
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if limitErr.Class != ClassAPI {
		t.Errorf("expected class %s, got %s", ClassAPI, limitErr.Class)
	}
	if limitErr.RetryAfterSeconds() <= 0 {
		t.Errorf("expected positive retry hint, got %d", limitErr.RetryAfterSeconds())
	}

	// Oldest entry (t=0) falls out of the window at t=61.
	if err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(61*time.Second)); err != nil {
		t.Fatalf("expected admission after window elapsed: %v", err)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	gate := New(testPolicies())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if err := gate.Admit(ctx, "client-1", ClassVoice, now); err != nil {
		t.Fatalf("first voice admit failed: %v", err)
	}
	if err := gate.Admit(ctx, "client-1", ClassVoice, now.Add(time.Second)); err == nil {
		t.Fatal("expected voice denial at limit")
	}
	// Same subject, different class: admission state must not be shared.
	if err := gate.Admit(ctx, "client-1", ClassAPI, now.Add(time.Second)); err != nil {
		t.Fatalf("api admit should be unaffected by voice denial: %v", err)
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	gate := New(testPolicies())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if err := gate.Admit(ctx, "client-1", ClassVoice, now); err != nil {
		t.Fatalf("client-1 admit failed: %v", err)
	}
	if err := gate.Admit(ctx, "client-2", ClassVoice, now); err != nil {
		t.Fatalf("client-2 admit failed: %v", err)
	}
}

func TestUnknownClassIsUnlimited(t *testing.T) {
	gate := New(testPolicies())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for i := 0; i < 100; i++ {
		if err := gate.Admit(ctx, "client-1", Class("unconfigured"), now); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
}

func setupRedisGate(t *testing.T) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := NewRedisStoreWithClient(client)
	return NewWithStore(testPolicies(), store), s
}

func TestRedisSlidingWindow(t *testing.T) {
	gate, s := setupRedisGate(t)
	defer s.Close()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}

	err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(3*time.Second))
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %v", err)
	}
	if limitErr.RetryAfterSeconds() <= 0 || limitErr.RetryAfterSeconds() > 60 {
		t.Errorf("unexpected retry hint: %d", limitErr.RetryAfterSeconds())
	}

	if err := gate.Admit(ctx, "client-1", ClassAPI, base.Add(61*time.Second)); err != nil {
		t.Fatalf("expected admission after window elapsed: %v", err)
	}
}

func TestRedisClassIsolation(t *testing.T) {
	gate, s := setupRedisGate(t)
	defer s.Close()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if err := gate.Admit(ctx, "client-1", ClassVoice, now); err != nil {
		t.Fatalf("voice admit failed: %v", err)
	}
	if err := gate.Admit(ctx, "client-1", ClassVoice, now.Add(time.Second)); err == nil {
		t.Fatal("expected voice denial at limit")
	}
	if err := gate.Admit(ctx, "client-1", ClassAPI, now.Add(time.Second)); err != nil {
		t.Fatalf("api admit should be unaffected: %v", err)
	}
}
