package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 2})
	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("expected burst of 2 to be admitted")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("expected third request to be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("expected other key to have its own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	if l.Enabled() {
		t.Fatal("expected zero RPS to disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("k") {
		t.Fatal("nil limiter must admit")
	}
	if err := nilLimiter.Wait(context.Background(), "k"); err != nil {
		t.Fatalf("nil limiter wait: %v", err)
	}
}

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()
	if err := l.WaitHost(ctx, "https://example.com/contact"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.WaitHost(ctx, "https://example.com/about"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	if err := l.Wait(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k"); err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
}

func TestLimiterResetsWhenKeyCapExceeded(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1, MaxKeys: 2})
	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	if got := len(l.limiters); got != 1 {
		t.Fatalf("expected map reset to 1 key, got %d", got)
	}
	if !l.Allow("a") {
		t.Fatal("expected key a to get a fresh bucket after reset")
	}
}

func TestHostKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Example.com:8443/x": "example.com",
		"http://x.test":              "x.test",
		"::not a url":                "unknown",
		"":                           "unknown",
	}
	for in, want := range cases {
		if got := HostKey(in); got != want {
			t.Errorf("HostKey(%q) = %q, want %q", in, got, want)
		}
	}
}
