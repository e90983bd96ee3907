package transport

import "testing"

func TestReconnectDelaySeconds_ExponentialDefault(t *testing.T) {
	cfg := Config{}
	cases := map[int]int{1: 1, 2: 2, 3: 4, 6: 30, 10: 30}
	for attempt, want := range cases {
		if got := ReconnectDelaySeconds(cfg, attempt); got != want {
			t.Fatalf("attempt %d: expected %d, got %d", attempt, want, got)
		}
	}
}

func TestReconnectDelaySeconds_Linear(t *testing.T) {
	cfg := Config{ReconnectBackoffLinear: true}
	cases := map[int]int{1: 1, 2: 2, 5: 5, 40: 30}
	for attempt, want := range cases {
		if got := ReconnectDelaySeconds(cfg, attempt); got != want {
			t.Fatalf("attempt %d: expected %d, got %d", attempt, want, got)
		}
	}
}
