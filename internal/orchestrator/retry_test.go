package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestExponentialDelayIsMonotonicAndCapped(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  10,
		BackoffType:  BackoffExponential,
		InitialDelay: Duration(100 * time.Millisecond),
		MaxDelay:     Duration(2 * time.Second),
	}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := cfg.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > cfg.MaxDelay.Std() {
			t.Fatalf("delay %s exceeds max %s", d, cfg.MaxDelay)
		}
		prev = d
	}
	if got := cfg.Delay(1); got != 100*time.Millisecond {
		t.Fatalf("first delay = %s", got)
	}
	if got := cfg.Delay(3); got != 400*time.Millisecond {
		t.Fatalf("third delay = %s", got)
	}
	if got := cfg.Delay(40); got != 2*time.Second {
		t.Fatalf("late delay = %s", got)
	}
}

func TestFixedDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BackoffType: BackoffFixed, InitialDelay: Duration(time.Second), MaxDelay: Duration(time.Minute)}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := cfg.Delay(attempt); got != time.Second {
			t.Fatalf("attempt %d: expected 1s, got %s", attempt, got)
		}
	}
}

func TestBackOffMatchesDelayAndStops(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  4,
		BackoffType:  BackoffExponential,
		InitialDelay: Duration(100 * time.Millisecond),
		MaxDelay:     Duration(300 * time.Millisecond),
	}
	b := cfg.BackOff()
	b.Reset()
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		if got, want := b.NextBackOff(), cfg.Delay(attempt); got != want {
			t.Fatalf("retry %d: backoff %s, delay %s", attempt, got, want)
		}
	}
	if got := b.NextBackOff(); got != backoff.Stop {
		t.Fatalf("expected stop after %d attempts, got %s", cfg.MaxAttempts, got)
	}

	single := singleAttempt().BackOff()
	single.Reset()
	if got := single.NextBackOff(); got != backoff.Stop {
		t.Fatalf("single attempt must not retry, got %s", got)
	}
}

func TestRetryConfigDecodeDefaults(t *testing.T) {
	var cfg RetryConfig
	if err := json.Unmarshal([]byte(`{"max_attempts":5,"backoff_type":"Fixed","initial_delay":250}`), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.MaxAttempts != 5 || cfg.BackoffType != BackoffFixed {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.InitialDelay.Std() != 250*time.Millisecond {
		t.Fatalf("expected 250ms initial delay, got %s", cfg.InitialDelay)
	}
	if cfg.MaxDelay.Std() != 30*time.Second {
		t.Fatalf("expected default max delay, got %s", cfg.MaxDelay)
	}
}

func TestRetryConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  RetryConfig
		ok   bool
	}{
		{"default", DefaultRetryConfig(), true},
		{"zero attempts", RetryConfig{MaxAttempts: 0, BackoffType: BackoffFixed}, false},
		{"too many attempts", RetryConfig{MaxAttempts: 11, BackoffType: BackoffFixed}, false},
		{"unknown type", RetryConfig{MaxAttempts: 2, BackoffType: "linear"}, false},
		{"initial above max", RetryConfig{MaxAttempts: 2, BackoffType: BackoffExponential, InitialDelay: Duration(time.Minute), MaxDelay: Duration(time.Second)}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: ok=%v, err=%v", tc.name, tc.ok, err)
		}
	}
}

func TestDurationAcceptsStringsAndMilliseconds(t *testing.T) {
	var d struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1.5s","b":20}`), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.A.Std() != 1500*time.Millisecond || d.B.Std() != 20*time.Millisecond {
		t.Fatalf("unexpected durations %s %s", d.A, d.B)
	}
	out, _ := json.Marshal(d.A)
	if string(out) != `"1.5s"` {
		t.Fatalf("unexpected encoding %s", out)
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &d); err == nil {
		t.Fatalf("expected an error for a bad duration")
	}
}
