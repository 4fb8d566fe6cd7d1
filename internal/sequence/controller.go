// Package sequence owns the account sequence number for one wallet.
//
// Every signed transaction for an account must carry the next sequence
// number or the chain rejects it. The controller guarantees that: it hands
// the number out through an exclusive single-holder lease (WithSequence),
// advances it only on acknowledged success, and resynchronises with the
// chain on mismatch, on a 30-second proactive schedule, and whenever local
// and authoritative values drift apart by more than 2.
//
// Failures inside a lease are classified by the chain's error text and
// returned as RetryableError; after three consecutive failures the
// controller reports Tripped and the worker cools down instead of hammering
// the chain.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrLeaseHeld means a second WithSequence call overlapped the first. Two
// concurrent leases for one wallet are a bug in the caller, never a
// recoverable condition.
var ErrLeaseHeld = errors.New("sequence lease already held")

// Kind classifies a broadcast failure inside a lease.
type Kind int

const (
	KindSequenceMismatch Kind = iota + 1 // chain saw a different sequence
	KindTimeoutHeight                    // tx expired before inclusion
	KindBroadcast                        // any other rejection
)

func (k Kind) String() string {
	switch k {
	case KindSequenceMismatch:
		return "sequence_mismatch"
	case KindTimeoutHeight:
		return "timeout_height"
	default:
		return "broadcast"
	}
}

// RetryableError wraps a broadcast failure that the worker may retry.
type RetryableError struct {
	Kind Kind
	Err  error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable (%s): %v", e.Kind, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// AsRetryable unwraps a RetryableError if err carries one.
func AsRetryable(err error) (*RetryableError, bool) {
	var rErr *RetryableError
	if errors.As(err, &rErr) {
		return rErr, true
	}
	return nil, false
}

// Classify maps a chain error onto its handling class by inspecting the
// raw log text, mirroring how the chain words its rejections.
func Classify(err error) Kind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "sequence mismatch"), strings.Contains(msg, "account sequence"):
		return KindSequenceMismatch
	case strings.Contains(msg, "timeout height"):
		return KindTimeoutHeight
	default:
		return KindBroadcast
	}
}

// expectedSeqRe pulls the authoritative sequence out of the chain's
// mismatch message ("account sequence mismatch, expected 42, got 40").
var expectedSeqRe = regexp.MustCompile(`expected (\d+)`)

func extractExpected(msg string) (uint64, bool) {
	m := expectedSeqRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Querier queries the authoritative account sequence.
type Querier interface {
	AccountSequence(ctx context.Context, address string) (uint64, error)
}

const (
	defaultRefreshEvery  = 30 * time.Second
	defaultMismatchWait  = 3 * time.Second
	defaultTimeoutWait   = 5 * time.Second
	defaultTripThreshold = 3
	maxDrift             = 2
)

// Controller is the single owner of one wallet's sequence state. All state
// lives behind its mutex; external reads go through accessors only.
type Controller struct {
	address string
	client  Querier
	logger  *slog.Logger

	refreshEvery  time.Duration
	mismatchWait  time.Duration
	timeoutWait   time.Duration
	tripThreshold int

	mu                sync.Mutex
	value             uint64
	lastRefreshedAt   time.Time
	consecutiveErrors int
	inFlight          bool
}

// NewController creates a controller for one wallet address. The sequence
// starts at zero; callers Refresh(force=true) during startup.
func NewController(address string, client Querier, logger *slog.Logger) *Controller {
	return &Controller{
		address:       address,
		client:        client,
		logger:        logger.With("component", "sequence"),
		refreshEvery:  defaultRefreshEvery,
		mismatchWait:  defaultMismatchWait,
		timeoutWait:   defaultTimeoutWait,
		tripThreshold: defaultTripThreshold,
	}
}

// WithSequence runs fn under the exclusive sequence lease. On success the
// local value advances by exactly one. On failure the error is classified,
// the consecutive-error counter is bumped, recovery waits are applied, and
// a RetryableError is returned.
func (c *Controller) WithSequence(ctx context.Context, fn func(seq uint64) error) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrLeaseHeld
	}
	c.inFlight = true
	seq := c.value
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	err := fn(seq)
	if err == nil {
		c.mu.Lock()
		c.value = seq + 1
		c.consecutiveErrors = 0
		c.mu.Unlock()
		return nil
	}

	kind := Classify(err)

	c.mu.Lock()
	c.consecutiveErrors++
	errCount := c.consecutiveErrors
	c.mu.Unlock()

	switch kind {
	case KindSequenceMismatch:
		c.logger.Warn("sequence mismatch, resyncing",
			"local", seq,
			"consecutive_errors", errCount,
			"error", err,
		)
		if expected, ok := extractExpected(err.Error()); ok {
			c.mu.Lock()
			c.value = expected
			c.lastRefreshedAt = time.Now()
			c.mu.Unlock()
		} else if rErr := c.Refresh(ctx, true); rErr != nil {
			c.logger.Warn("forced refresh after mismatch failed", "error", rErr)
		}
		if sErr := sleepCtx(ctx, c.mismatchWait); sErr != nil {
			return sErr
		}

	case KindTimeoutHeight:
		c.logger.Warn("broadcast hit timeout height",
			"sequence", seq,
			"consecutive_errors", errCount,
		)
		if sErr := sleepCtx(ctx, c.timeoutWait); sErr != nil {
			return sErr
		}

	case KindBroadcast:
		c.logger.Warn("broadcast rejected",
			"sequence", seq,
			"consecutive_errors", errCount,
			"error", err,
		)
	}

	return &RetryableError{Kind: kind, Err: err}
}

// Refresh queries the authoritative sequence and adopts it. Non-forced
// calls are throttled to one per refresh interval. On query failure the
// local state is left unchanged.
func (c *Controller) Refresh(ctx context.Context, force bool) error {
	c.mu.Lock()
	if !force && time.Since(c.lastRefreshedAt) < c.refreshEvery {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	auth, err := c.client.AccountSequence(ctx, c.address)
	if err != nil {
		return fmt.Errorf("refresh sequence: %w", err)
	}

	c.mu.Lock()
	old := c.value
	c.value = auth
	c.lastRefreshedAt = time.Now()
	c.mu.Unlock()

	if old != auth {
		c.logger.Info("sequence refreshed", "old", old, "new", auth, "forced", force)
	}
	return nil
}

// CheckDrift compares local and authoritative sequences and adopts the
// authoritative value when they disagree by more than 2.
func (c *Controller) CheckDrift(ctx context.Context) error {
	auth, err := c.client.AccountSequence(ctx, c.address)
	if err != nil {
		return fmt.Errorf("check drift: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	drift := int64(auth) - int64(c.value)
	if drift > maxDrift || drift < -maxDrift {
		c.logger.Warn("sequence drift detected, adopting authoritative value",
			"local", c.value,
			"authoritative", auth,
			"drift", drift,
		)
		c.value = auth
		c.lastRefreshedAt = time.Now()
	}
	return nil
}

// Tripped reports whether the circuit breaker threshold has been reached.
func (c *Controller) Tripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors >= c.tripThreshold
}

// ResetErrors clears the consecutive-error counter after a cooldown.
func (c *Controller) ResetErrors() {
	c.mu.Lock()
	c.consecutiveErrors = 0
	c.mu.Unlock()
}

// Value returns the current local sequence number.
func (c *Controller) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// ConsecutiveErrors returns the current error streak length.
func (c *Controller) ConsecutiveErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
