package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

type Publisher interface {
	Send(ctx context.Context, key []byte, value []byte) error
}

// BookUpdate is the message published for every update of a watched book.
type BookUpdate struct {
	Provider  string              `json:"provider"`
	Symbol    string              `json:"symbol"`
	Nonce     int64               `json:"nonce"`
	Timestamp time.Time           `json:"timestamp"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
}

type BookRef struct {
	Provider string
	Symbol   string
}

// ParseBookRef parses provider:BASE/QUOTE.
func ParseBookRef(s string) (BookRef, error) {
	provider, symbol, ok := strings.Cut(s, ":")
	if !ok || provider == "" || symbol == "" {
		return BookRef{}, fmt.Errorf("invalid book %q, want provider:BASE/QUOTE", s)
	}
	return BookRef{Provider: provider, Symbol: symbol}, nil
}

func (b BookRef) Key() string { return b.Provider + ":" + b.Symbol }

// BookPublisherUseCase watches books and forwards each update to a publisher,
// keyed provider:symbol so updates of one book stay ordered.
type BookPublisherUseCase struct {
	connManager domain.ConnManager
	publisher   Publisher
	depth       int
	// newBackOff is replaced in tests
	newBackOff func() backoff.BackOff
}

func NewBookPublisherUseCase(connManager domain.ConnManager, publisher Publisher, depth int) *BookPublisherUseCase {
	return &BookPublisherUseCase{
		connManager: connManager,
		publisher:   publisher,
		depth:       depth,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// Run publishes until ctx is done. Books that cannot be watched at all are
// reported in the returned error; transient failures are retried.
func (u *BookPublisherUseCase) Run(ctx context.Context, books []BookRef) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, book := range books {
		wg.Add(1)
		go func(book BookRef) {
			defer wg.Done()
			if err := u.publish(ctx, book); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", book.Key(), err))
				mu.Unlock()
			}
		}(book)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (u *BookPublisherUseCase) publish(ctx context.Context, book BookRef) error {
	log := logger.WithFields(logrus.Fields{"provider": book.Provider, "symbol": book.Symbol})

	watcher, err := u.connManager.Watcher(book.Provider)
	if err != nil {
		return err
	}

	b := u.newBackOff()
	key := []byte(book.Key())
	for ctx.Err() == nil {
		snapshot, err := watcher.WatchOrderBook(ctx, book.Symbol, 0)
		if err == nil {
			err = u.send(ctx, book, key, snapshot)
		}

		switch {
		case err == nil:
			b.Reset()
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, domain.ErrMarketNotFound), errors.Is(err, domain.ErrNotImplemented):
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		log.WithError(err).WithField("wait", wait).Warn("failed to publish book update, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return nil
}

func (u *BookPublisherUseCase) send(ctx context.Context, book BookRef, key []byte, snapshot *domain.OrderBookSnapshot) error {
	snapshot = domain.LimitSnapshot(snapshot, u.depth)
	value, err := json.Marshal(BookUpdate{
		Provider:  book.Provider,
		Symbol:    snapshot.Symbol,
		Nonce:     snapshot.Nonce,
		Timestamp: snapshot.Timestamp,
		Bids:      snapshot.Bids,
		Asks:      snapshot.Asks,
	})
	if err != nil {
		return err
	}
	return u.publisher.Send(ctx, key, value)
}
