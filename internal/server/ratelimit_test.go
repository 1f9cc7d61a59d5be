package server

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiterAllowsWithinBudget(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{RequestsPerMinute: 3, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d blocked, want allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("request over budget allowed, want blocked")
	}
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{RequestsPerMinute: 1, CleanupInterval: time.Minute})
	defer limiter.Stop()

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("first client blocked, want allowed")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Error("second client blocked by first client's budget")
	}
}

func TestLimiterDefaultsOnZeroConfig(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{})
	defer limiter.Stop()

	want := DefaultLimiterConfig().RequestsPerMinute
	for i := 0; i < want; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d blocked under default budget of %d", i+1, want)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Errorf("request %d allowed, want blocked at default budget", want+1)
	}
}

func TestCleanupRemovesStaleClients(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{RequestsPerMinute: 5, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i))
	}

	limiter.mu.Lock()
	for _, client := range limiter.clients {
		client.lastRequest = time.Now().Add(-11 * time.Minute)
	}
	limiter.mu.Unlock()

	limiter.cleanupStaleEntries()

	limiter.mu.Lock()
	remaining := len(limiter.clients)
	limiter.mu.Unlock()
	if remaining != 0 {
		t.Errorf("clients after cleanup = %d, want 0", remaining)
	}
}
