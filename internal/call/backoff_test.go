package call

import (
	"math/rand"
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: 0},
		{attempt: 2, want: 100 * time.Millisecond},
		{attempt: 3, want: 200 * time.Millisecond},
		{attempt: 4, want: 400 * time.Millisecond},
		{attempt: 5, want: 800 * time.Millisecond},
		{attempt: 6, want: time.Second},
		{attempt: 60, want: time.Second},
	}
	for _, tc := range cases {
		if got := reconnectDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: delay=%v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestReconnectDelayJitterStaysBounded(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2, Jitter: true}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		got := reconnectDelay(cfg, 3, rng)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("delay=%v, want within [100ms, 300ms]", got)
		}
	}
}

func TestReconnectDelayZeroInitial(t *testing.T) {
	if got := reconnectDelay(BackoffConfig{Multiplier: 2}, 5, nil); got != 0 {
		t.Fatalf("delay=%v, want 0", got)
	}
}
