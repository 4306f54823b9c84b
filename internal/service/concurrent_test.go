package service_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

// TestConcurrentWithdrawalGuard simulates 50 goroutines simultaneously
// withdrawing from a shared pool balance — protected by a mutex.
// This test verifies our concurrency guard pattern compiles and passes -race.
//
// In the real AdminService, the per-instance manager lock plus the DB
// row-level FOR UPDATE lock provide this guarantee.  Here we replicate the
// same guard with sync primitives so the race detector can confirm the
// pattern is sound.
func TestConcurrentWithdrawalGuard(t *testing.T) {
	const workers = 50
	const drawEach = 10 // quote units per withdrawal

	// Fund the pool for exactly half the requested withdrawals.
	balance := decimal.NewFromInt(int64(workers * drawEach / 2))
	var mu sync.Mutex
	var rejected int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			amount := decimal.NewFromInt(drawEach)

			mu.Lock()
			defer mu.Unlock()

			if balance.LessThan(amount) {
				atomic.AddInt64(&rejected, 1)
				return
			}
			balance = balance.Sub(amount)
		}()
	}
	wg.Wait()

	// Exactly half the withdrawals fit; the rest must be rejected, and the
	// balance must never go negative.
	if rejected != workers/2 {
		t.Errorf("expected %d rejected withdrawals, got %d", workers/2, rejected)
	}
	if !balance.IsZero() {
		t.Errorf("final balance should be 0, got %s", balance)
	}
	if balance.IsNegative() {
		t.Errorf("balance went negative: %s", balance)
	}
}

// TestConcurrentLifecycleIdempotency verifies that a status transition fires
// its side effect once under concurrent access: only one of N goroutines
// observes the ACTIVE→PAUSED edge, the rest see a no-op.
func TestConcurrentLifecycleIdempotency(t *testing.T) {
	const workers = 20

	status := "ACTIVE"
	var mu sync.Mutex
	var transitions int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mu.Lock()
			defer mu.Unlock()

			if status != "ACTIVE" {
				return // no-op, no audit entry written
			}
			status = "PAUSED"
			atomic.AddInt64(&transitions, 1)
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("expected exactly 1 transition, got %d", transitions)
	}
	if status != "PAUSED" {
		t.Errorf("final status should be PAUSED, got %s", status)
	}
}
