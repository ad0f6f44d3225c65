package domain

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "orderbook-store")

type BookState int

const (
	StateUninitialized BookState = iota
	StateBuffering
	StateSynced
	StateTerminated
)

func (s BookState) String() string {
	switch s {
	case StateBuffering:
		return "BUFFERING"
	case StateSynced:
		return "SYNCED"
	case StateTerminated:
		return "TERMINATED"
	}
	return "UNINITIALIZED"
}

const (
	// DefaultGapLimit is the number of resyncs in a row, without a live
	// update applied in between, after which the book is given up.
	DefaultGapLimit = 3
	// DefaultMaxPending caps the updates buffered while BUFFERING; the oldest
	// are dropped first.
	DefaultMaxPending = 10000
)

type bookEntry struct {
	book     *OrderBook
	state    BookState
	opts     BookOptions
	fetching bool
	fetchID  uint64
	cancel   context.CancelFunc
	// resyncs since the last live update was applied
	gaps int
}

// OrderBookStore owns the books of one connection and drives each one through
// UNINITIALIZED -> BUFFERING -> SYNCED -> TERMINATED. It is not safe for
// concurrent use; the owning connection serializes every call.
type OrderBookStore struct {
	applier    *DeltaApplier
	gapLimit   int
	maxPending int
	fetchSeq   uint64
	books      map[string]*bookEntry
}

func NewOrderBookStore(applier *DeltaApplier, gapLimit int) *OrderBookStore {
	if gapLimit <= 0 {
		gapLimit = DefaultGapLimit
	}
	return &OrderBookStore{
		applier:    applier,
		gapLimit:   gapLimit,
		maxPending: DefaultMaxPending,
		books:      make(map[string]*bookEntry),
	}
}

// Open returns the book for symbol, creating it in BUFFERING on first use.
// needFetch reports whether the caller has to schedule a snapshot fetch.
func (s *OrderBookStore) Open(symbol string, opts BookOptions) (book *OrderBook, created bool, needFetch bool) {
	e, ok := s.books[symbol]
	if !ok {
		e = &bookEntry{
			book:  NewOrderBook(symbol, opts.Indexed),
			state: StateBuffering,
			opts:  opts,
		}
		s.books[symbol] = e
		created = true
	}

	needFetch = e.state == StateBuffering && !e.fetching && !e.opts.StreamSnapshot
	return e.book, created, needFetch
}

// FetchStarted marks a snapshot fetch in flight and returns its id; cancel is
// invoked when the book is closed.
func (s *OrderBookStore) FetchStarted(symbol string, cancel context.CancelFunc) uint64 {
	e, ok := s.books[symbol]
	if !ok {
		return 0
	}
	if e.cancel != nil {
		e.cancel()
	}
	s.fetchSeq++
	e.fetching = true
	e.fetchID = s.fetchSeq
	e.cancel = cancel
	return e.fetchID
}

// FetchPending reports whether fetch id is still the one the book waits for.
// It is false once the book was closed, reopened or handed a result.
func (s *OrderBookStore) FetchPending(symbol string, id uint64) bool {
	e, ok := s.books[symbol]
	return ok && e.fetching && e.fetchID == id
}

// FetchFailed leaves the book in BUFFERING so the next watch retries.
func (s *OrderBookStore) FetchFailed(symbol string) {
	if e, ok := s.books[symbol]; ok {
		e.fetching = false
		e.cancel = nil
	}
}

// HandleDelta buffers the update while BUFFERING and applies it while SYNCED.
// applied is false for buffered or outdated updates. An out of sequence update
// moves the book back to BUFFERING at once and returns
// ErrOrderBookResyncRequired, or ErrOrderBookGapLimit once gapLimit resyncs
// happened in a row.
func (s *OrderBookStore) HandleDelta(symbol string, update *OrderBookUpdate) (applied bool, err error) {
	e, ok := s.books[symbol]
	if !ok {
		return false, ErrOrderBookNotFound
	}

	switch e.state {
	case StateBuffering:
		s.buffer(e, update)
		return false, nil
	case StateSynced:
	default:
		return false, ErrOrderBookNotFound
	}

	err = s.applier.Apply(e.book, update)
	switch {
	case err == nil:
		e.gaps = 0
		return true, nil
	case errors.Is(err, ErrOrderBookUpdateIsOutdated):
		return false, nil
	case errors.Is(err, ErrOrderBookUpdateIsOutOfSequence):
		e.gaps++
		logger.WithFields(logrus.Fields{"symbol": symbol, "nonce": e.book.nonce, "first": update.FirstNonce, "gaps": e.gaps}).
			Warn("out of sequence update, resyncing")
		s.resync(e)
		if e.gaps > s.gapLimit {
			return false, ErrOrderBookGapLimit
		}
		s.buffer(e, update)
		return false, ErrOrderBookResyncRequired
	default:
		return false, err
	}
}

// InstallSnapshot installs the snapshot, replays the pending buffer in arrival
// order and moves the book to SYNCED. A snapshot older than the buffered
// stream counts as a gap. Stream-snapshot books (re)initialize
// from the snapshot in any state and drop whatever was buffered.
func (s *OrderBookStore) InstallSnapshot(symbol string, snapshot *OrderBookSnapshot) (*OrderBook, error) {
	e, ok := s.books[symbol]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	e.fetching = false
	e.cancel = nil

	if e.opts.StreamSnapshot {
		e.book.pending.Clear()
		e.book.reset(snapshot)
		e.state = StateSynced
		e.gaps = 0
		return e.book, nil
	}

	if e.state != StateBuffering {
		logger.WithField("symbol", symbol).Debug("ignoring snapshot for a book that is not buffering")
		return e.book, nil
	}

	e.book.reset(snapshot)
	for e.book.pending.Len() > 0 {
		update := e.book.pending.Front()
		err := s.applier.Apply(e.book, update)
		if errors.Is(err, ErrOrderBookUpdateIsOutOfSequence) {
			// snapshot is older than the buffered stream
			e.book.clearLevels()
			e.gaps++
			if e.gaps > s.gapLimit {
				return e.book, ErrOrderBookGapLimit
			}
			return e.book, ErrOrderBookResyncRequired
		}
		e.book.pending.PopFront()
		if err != nil && !errors.Is(err, ErrOrderBookUpdateIsOutdated) {
			logger.WithError(err).WithField("symbol", symbol).Warn("dropping buffered update")
		}
	}

	e.state = StateSynced
	return e.book, nil
}

// Close discards the book and cancels its in-flight snapshot fetch.
func (s *OrderBookStore) Close(symbol string) bool {
	e, ok := s.books[symbol]
	if !ok {
		return false
	}
	s.terminate(e)
	delete(s.books, symbol)
	return true
}

func (s *OrderBookStore) CloseAll() int {
	n := len(s.books)
	for symbol, e := range s.books {
		s.terminate(e)
		delete(s.books, symbol)
	}
	return n
}

func (s *OrderBookStore) Book(symbol string) (*OrderBook, bool) {
	e, ok := s.books[symbol]
	if !ok {
		return nil, false
	}
	return e.book, true
}

func (s *OrderBookStore) State(symbol string) BookState {
	e, ok := s.books[symbol]
	if !ok {
		return StateUninitialized
	}
	return e.state
}

func (s *OrderBookStore) OrderBookCount() int {
	return len(s.books)
}

func (s *OrderBookStore) resync(e *bookEntry) {
	e.book.clearLevels()
	e.book.pending.Clear()
	e.state = StateBuffering
}

func (s *OrderBookStore) buffer(e *bookEntry, update *OrderBookUpdate) {
	if e.book.pending.Len() >= s.maxPending {
		e.book.pending.PopFront()
	}
	e.book.pending.PushBack(update)
}

func (s *OrderBookStore) terminate(e *bookEntry) {
	if e.cancel != nil {
		e.cancel()
	}
	e.fetching = false
	e.cancel = nil
	e.book.pending.Clear()
	e.book.clearLevels()
	e.state = StateTerminated
}
