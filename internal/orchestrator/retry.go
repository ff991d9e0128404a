package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

const maxRetryAttempts = 10

// RetryConfig is the per-step retry policy. MaxAttempts counts the first
// attempt.
type RetryConfig struct {
	MaxAttempts  int         `json:"max_attempts"`
	BackoffType  BackoffType `json:"backoff_type"`
	InitialDelay Duration    `json:"initial_delay"`
	MaxDelay     Duration    `json:"max_delay"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BackoffType:  BackoffExponential,
		InitialDelay: Duration(100 * time.Millisecond),
		MaxDelay:     Duration(30 * time.Second),
	}
}

// UnmarshalJSON fills omitted fields from DefaultRetryConfig.
func (r *RetryConfig) UnmarshalJSON(data []byte) error {
	type plain RetryConfig
	p := plain(DefaultRetryConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.BackoffType = BackoffType(strings.ToLower(string(p.BackoffType)))
	*r = RetryConfig(p)
	return nil
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 || r.MaxAttempts > maxRetryAttempts {
		return fmt.Errorf("max_attempts must be between 1 and %d, got %d", maxRetryAttempts, r.MaxAttempts)
	}
	switch r.BackoffType {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff_type %q", r.BackoffType)
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
		return fmt.Errorf("initial_delay %s exceeds max_delay %s", r.InitialDelay, r.MaxDelay)
	}
	return nil
}

// Delay is the wait after the given failed attempt (1-based). Exponential
// doubles from InitialDelay, Fixed repeats it; both are capped at MaxDelay.
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := r.InitialDelay.Std()
	if r.BackoffType == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if r.MaxDelay > 0 && d >= r.MaxDelay.Std() {
				break
			}
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay.Std() {
		d = r.MaxDelay.Std()
	}
	return d
}

// BackOff returns a schedule yielding Delay(1), Delay(2), ... and stopping
// after MaxAttempts-1 retries.
func (r RetryConfig) BackOff() backoff.BackOff {
	var b backoff.BackOff
	switch r.BackoffType {
	case BackoffFixed:
		b = backoff.NewConstantBackOff(r.Delay(1))
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = r.Delay(1)
		eb.MaxInterval = r.MaxDelay.Std()
		if eb.MaxInterval <= 0 {
			eb.MaxInterval = time.Duration(1<<63 - 1)
		}
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	retries := r.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

func singleAttempt() RetryConfig {
	return RetryConfig{MaxAttempts: 1, BackoffType: BackoffFixed}
}
