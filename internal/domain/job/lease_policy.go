// Package job holds queue delivery policies shared by the queue service and the worker runtime.
package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

const (
	minLease = time.Second
	maxLease = 6 * time.Hour
)

// LeasePolicy normalises lease durations for reservations and derives the heartbeat cadence.
// A lease bounds how long a crashed worker can hold an entry before it is redelivered.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: clampLease(defaultLease)}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Resolve returns the lease to use for a reservation. Zero selects the default; other values are
// clamped into [1s, 6h] and truncated to whole seconds.
func (p *LeasePolicy) Resolve(request time.Duration) (time.Duration, bool) {
	if request == 0 {
		return p.Default(), false
	}
	lease := clampLease(request)
	return lease, lease != request
}

// HeartbeatInterval is the cadence at which a worker must extend a lease of the given length.
func HeartbeatInterval(lease time.Duration) time.Duration {
	interval := lease / 3
	if interval < minLease/2 {
		return minLease / 2
	}
	return interval
}

func clampLease(d time.Duration) time.Duration {
	if d < minLease {
		return minLease
	}
	if d > maxLease {
		return maxLease
	}
	return d.Truncate(time.Second)
}
