package breaker

import (
	"testing"
	"time"
)

func TestBreakerTripAndCooldown(t *testing.T) {
	b := New()
	url := "http://127.0.0.1:9000"

	if b.Tripped(url) {
		t.Fatalf("expected closed breaker before any trip")
	}

	b.Trip(url, 10*time.Millisecond)
	if !b.Tripped(url) {
		t.Fatalf("expected tripped immediately after Trip")
	}

	time.Sleep(15 * time.Millisecond)
	if b.Tripped(url) {
		t.Fatalf("expected breaker to close after cooldown elapses")
	}
}

func TestBreakerTripExtendsExistingCooldown(t *testing.T) {
	b := New()
	url := "http://127.0.0.1:9000"

	b.Trip(url, 10*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	b.Trip(url, 50*time.Millisecond) // overwrites, doesn't accumulate

	time.Sleep(20 * time.Millisecond)
	if !b.Tripped(url) {
		t.Fatalf("expected extended cooldown to still be in effect")
	}
}

func TestBreakerIsPerURL(t *testing.T) {
	b := New()
	b.Trip("http://a", time.Hour)

	if b.Tripped("http://b") {
		t.Fatalf("expected unrelated url to remain closed")
	}
	if !b.Tripped("http://a") {
		t.Fatalf("expected tripped url to remain tripped")
	}
}
