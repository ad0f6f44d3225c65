package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

// RetryingSyncAPI retries snapshot fetches that failed on transport errors or
// venue rate limits, backing off exponentially. Other venue errors fail at once.
type RetryingSyncAPI struct {
	api      domain.ProviderSyncAPI
	provider string
	maxTries uint
	timeout  time.Duration
	// newBackOff is replaced in tests
	newBackOff func() backoff.BackOff
}

func NewRetryingSyncAPI(provider string, api domain.ProviderSyncAPI, maxTries uint, timeout time.Duration) *RetryingSyncAPI {
	if maxTries == 0 {
		maxTries = 1
	}
	return &RetryingSyncAPI{
		api:      api,
		provider: provider,
		maxTries: maxTries,
		timeout:  timeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

func (r *RetryingSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	attempt := 0
	operation := func() (*domain.OrderBookSnapshot, error) {
		attempt++

		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		snapshot, err := r.api.OrderBookSnapshot(callCtx, market, limit)
		if err == nil {
			return snapshot, nil
		}
		return nil, r.classify(ctx, err)
	}

	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"provider": r.provider,
			"market":   market.ID,
			"attempt":  attempt,
			"wait":     wait,
		}).Warn("snapshot fetch failed, retrying")
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(notify),
	)
}

func (r *RetryingSyncAPI) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}

	var exErr *domain.ExchangeError
	if !errors.As(err, &exErr) {
		// transport and timeout errors
		return err
	}
	if !exErr.IsRetriable() {
		return backoff.Permanent(err)
	}
	return err
}
