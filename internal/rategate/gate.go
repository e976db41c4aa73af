// Package rategate implements sliding-window admission control. Each
// (subject, resource class) pair keeps a log of admission timestamps inside
// the trailing window; a request is denied once the log reaches the class
// limit. Windows are pruned lazily on every check.
package rategate

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Class names an independently limited resource class. No two classes share
// window state, even for the same subject.
type Class string

const (
	ClassAPI        Class = "api"
	ClassVoice      Class = "voice"
	ClassSuggestion Class = "suggestion"
	ClassMessage    Class = "message"
)

// Policy is the admission budget for one resource class.
type Policy struct {
	Limit  int
	Window time.Duration
}

// LimitError is the denial result of an admission check. It always carries
// the denied class and a retry hint; it is never fatal.
type LimitError struct {
	Class      Class
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Class, e.RetryAfter)
}

// RetryAfterSeconds rounds the retry hint up to whole seconds for wire
// responses.
func (e *LimitError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Store holds the admission windows. Implementations must be safe for
// concurrent use; contention is limited to a single key.
type Store interface {
	// Admit prunes the window for key, then either records now and admits,
	// or reports how long until the oldest remaining entry falls out.
	Admit(ctx context.Context, key string, policy Policy, now time.Time) (retryAfter time.Duration, ok bool, err error)
}

// Gate checks inbound work against per-class policies.
type Gate struct {
	policies map[Class]Policy
	store    Store
}

// New builds a gate over the in-memory window store.
func New(policies map[Class]Policy) *Gate {
	return NewWithStore(policies, NewMemoryStore())
}

// NewWithStore builds a gate over a caller-supplied window store, e.g. the
// Redis store when admission state is shared between instances.
func NewWithStore(policies map[Class]Policy, store Store) *Gate {
	copied := make(map[Class]Policy, len(policies))
	for class, policy := range policies {
		copied[class] = policy
	}
	return &Gate{policies: copied, store: store}
}

// Admit records one request for subject under class. A denial is returned
// as *LimitError; any other error means the window store itself failed.
// A class without a configured policy is admitted unconditionally.
func (g *Gate) Admit(ctx context.Context, subject string, class Class, now time.Time) error {
	policy, ok := g.policies[class]
	if !ok || policy.Limit <= 0 {
		return nil
	}
	key := subject + "|" + string(class)
	retryAfter, admitted, err := g.store.Admit(ctx, key, policy, now)
	if err != nil {
		return fmt.Errorf("rate window check: %w", err)
	}
	if !admitted {
		return &LimitError{Class: class, RetryAfter: retryAfter}
	}
	return nil
}
