package domain

import "errors"

var (
	// The book is resynchronized from a new snapshot.
	ErrOrderBookUpdateIsOutOfSequence = errors.New("order book update is out of sequence")
	// Skipped silently: the book already reflects it.
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

type DepthUpdateValidator interface {
	// if return nil, the update is valid
	IsValidUpd(update *OrderBookUpdate, orderBookNonce int64) error
}

// MonotonicValidator accepts any update newer than the book.
// Used by venues that stamp each update with a single increasing id.
type MonotonicValidator struct{}

func (MonotonicValidator) IsValidUpd(update *OrderBookUpdate, orderBookNonce int64) error {
	if update.Nonce <= orderBookNonce {
		return ErrOrderBookUpdateIsOutdated
	}
	return nil
}

// ContinuousValidator requires each update's [FirstNonce, Nonce] range to
// start no later than orderBookNonce+1, as binance (U/u) and kucoin
// (sequenceStart/sequenceEnd) document.
type ContinuousValidator struct{}

func (ContinuousValidator) IsValidUpd(update *OrderBookUpdate, orderBookNonce int64) error {
	// Drop any event where u is <= lastUpdateId in the snapshot
	if update.Nonce <= orderBookNonce {
		return ErrOrderBookUpdateIsOutdated
	}

	if update.FirstNonce > orderBookNonce+1 {
		return ErrOrderBookUpdateIsOutOfSequence
	}

	return nil
}
