package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucket_WaitConsumesToken(t *testing.T) {
	// Given a bucket with one token available
	b := NewBucket(1, 100)

	// When Wait is called
	err := b.Wait(context.Background())

	// Then it succeeds immediately
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBucket_WaitBlocksUntilRefill(t *testing.T) {
	// Given an empty bucket that refills quickly
	b := NewBucket(1, 1000) // 1000 tokens/sec -> ~1ms refill
	_ = b.Wait(context.Background())

	// When Wait is called again before the bucket is full
	start := time.Now()
	err := b.Wait(context.Background())
	elapsed := time.Since(start)

	// Then it blocks briefly but succeeds
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Wait took too long: %v", elapsed)
	}
}

func TestBucket_WaitCancellation(t *testing.T) {
	// Given an empty bucket with a slow refill rate
	b := NewBucket(1, 0.001)
	_ = b.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// When Wait is called and the context expires first
	err := b.Wait(ctx)

	// Then it returns the context error instead of blocking forever
	if err == nil {
		t.Error("expected context deadline error")
	}
}
