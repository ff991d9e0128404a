package remote

import "context"

// Admission is the rate limiter / circuit breaker consulted by the batch
// processor. Implementations live outside this package.
type Admission interface {
	CheckRateLimit() bool
	AcquirePermit(ctx context.Context) (Permit, error)
	ShouldSample() bool
	RecordSuccess()
	RecordFailure()
}

type Permit interface {
	Release()
}

// AllowAll admits every request.
type AllowAll struct{}

func (AllowAll) CheckRateLimit() bool { return true }

func (AllowAll) AcquirePermit(context.Context) (Permit, error) { return noopPermit{}, nil }

func (AllowAll) ShouldSample() bool { return true }

func (AllowAll) RecordSuccess() {}

func (AllowAll) RecordFailure() {}

type noopPermit struct{}

func (noopPermit) Release() {}
