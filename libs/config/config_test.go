package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8085")
	p, err := Port("TEST_PORT", "8080")
	if err != nil || p != "8085" {
		t.Fatalf("expected 8085, got %q (%v)", p, err)
	}

	t.Setenv("TEST_PORT", "99999")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestNumericFallbacks(t *testing.T) {
	t.Setenv("TEST_BATCH", "-3")
	if got := Int("TEST_BATCH", 50); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	t.Setenv("TEST_BATCH", "25")
	if got := Int("TEST_BATCH", 50); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}

	t.Setenv("TEST_INTERVAL", "nope")
	if got := Seconds("TEST_INTERVAL", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	t.Setenv("TEST_INTERVAL", "90")
	if got := Seconds("TEST_INTERVAL", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TEST_FLAG", " Yes ")
	if !Bool("TEST_FLAG", false) {
		t.Fatal("expected truthy flag")
	}
	if !Bool("TEST_FLAG_UNSET", true) {
		t.Fatal("expected fallback for unset flag")
	}

	t.Setenv("TEST_LIST", "a, b,,c ")
	got := List("TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected list: %#v", got)
	}
}
