package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucket_AllowsBurstUpToLimit(t *testing.T) {
	b := New(100)
	for i := 0; i < 100; i++ {
		if !b.Allow() {
			t.Fatalf("token %d: expected allow within burst", i)
		}
	}
	if b.Allow() {
		t.Fatal("expected burst to be exhausted after 100 tokens")
	}
}

func TestBucket_WaitRespectsContextCancellation(t *testing.T) {
	b := New(1)
	for b.Allow() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}

func TestBucket_WaitSucceedsWhenTokenAvailable(t *testing.T) {
	b := New(100)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
