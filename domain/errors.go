package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDecode                = errors.New("malformed frame")
	ErrUnknownChannel        = errors.New("unknown channel")
	ErrNotImplemented        = errors.New("not implemented")
	ErrExchange              = errors.New("exchange error")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrSubscriptionCancelled = errors.New("subscription cancelled")
	ErrNoSubscription        = errors.New("no subscription for routing key")
	// Returned instead of guessing when a keyless frame arrives on a
	// connection that carries more than one subscription.
	ErrAmbiguousRoute = errors.New("ambiguous route: more than one subscription on connection")
	ErrMalformedDelta = errors.New("malformed delta")
	ErrMarketNotFound = errors.New("market not found")

	ErrOrderBookNotFound       = errors.New("order book not found")
	ErrOrderBookResyncRequired = errors.New("order book lost sequence, snapshot refetch required")
	ErrOrderBookGapLimit       = errors.New("order book keeps losing sequence, giving up")
)

// SnapshotFetchError rejects the order-book waiter of one symbol. The book
// stays in BUFFERING so the next watch retries the fetch.
type SnapshotFetchError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *SnapshotFetchError) Error() string {
	return fmt.Sprintf("%s: snapshot fetch for %s failed: %v", e.Provider, e.Symbol, e.Err)
}

func (e *SnapshotFetchError) Unwrap() error { return e.Err }

func (e *SnapshotFetchError) IsRetriable() bool { return true }

// ExchangeError is an error frame reported by the venue itself.
type ExchangeError struct {
	Provider   string
	Status     int
	Message    string
	RetryAfter time.Duration
	// Kind is ErrRateLimitExceeded or ErrExchange.
	Kind error
}

func NewExchangeError(provider string, status int, message string) *ExchangeError {
	return &ExchangeError{
		Provider: provider,
		Status:   status,
		Message:  message,
		Kind:     ErrExchange,
	}
}

func (e *ExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Provider, e.kind(), e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %v: %s", e.Provider, e.kind(), e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.kind() }

func (e *ExchangeError) IsRetriable() bool {
	return errors.Is(e.kind(), ErrRateLimitExceeded)
}

func (e *ExchangeError) kind() error {
	if e.Kind == nil {
		return ErrExchange
	}
	return e.Kind
}

// IsRetriable reports whether err, or anything it wraps, asks to be retried.
func IsRetriable(err error) bool {
	var r interface{ IsRetriable() bool }
	if errors.As(err, &r) {
		return r.IsRetriable()
	}
	return false
}
