package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(nonce int64, bids, asks []LevelUpdate) *OrderBookUpdate {
	return &OrderBookUpdate{Nonce: nonce, Bids: bids, Asks: asks}
}

func restSnapshot(nonce int64) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source: OrderBookSource_Provider,
		Nonce:  nonce,
		Bids:   []PriceLevel{{Price: d("100"), Amount: d("1")}},
		Asks:   []PriceLevel{{Price: d("101"), Amount: d("2")}},
	}
}

func TestOrderBookStore_Lifecycle(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(MonotonicValidator{}), 0)
	assert.Equal(t, StateUninitialized, s.State("BTC/USDC"))

	_, created, needFetch := s.Open("BTC/USDC", BookOptions{})
	assert.True(t, created)
	assert.True(t, needFetch)
	assert.Equal(t, StateBuffering, s.State("BTC/USDC"))

	s.FetchStarted("BTC/USDC", func() {})
	_, created, needFetch = s.Open("BTC/USDC", BookOptions{})
	assert.False(t, created)
	assert.False(t, needFetch, "a second watch never issues a second fetch")

	applied, err := s.HandleDelta("BTC/USDC", delta(11, []LevelUpdate{{Price: "100", Amount: "0"}}, nil))
	require.NoError(t, err)
	assert.False(t, applied)
	book, _ := s.Book("BTC/USDC")
	assert.Equal(t, 1, book.PendingLen())
	assert.Empty(t, book.Bids(0), "buffered deltas do not touch the levels")

	book, err = s.InstallSnapshot("BTC/USDC", restSnapshot(10))
	require.NoError(t, err)
	assert.Equal(t, StateSynced, s.State("BTC/USDC"))
	assert.Equal(t, 0, book.PendingLen())
	assert.Empty(t, book.Bids(0))
	assert.Equal(t, []string{"101"}, prices(book.Asks(0)))
	assert.Equal(t, int64(11), book.Nonce())

	applied, err = s.HandleDelta("BTC/USDC", delta(12, []LevelUpdate{{Price: "99", Amount: "3"}}, nil))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.HandleDelta("BTC/USDC", delta(12, []LevelUpdate{{Price: "98", Amount: "3"}}, nil))
	require.NoError(t, err)
	assert.False(t, applied, "re-delivered delta is a no-op")

	assert.True(t, s.Close("BTC/USDC"))
	assert.Equal(t, StateUninitialized, s.State("BTC/USDC"))
	assert.Equal(t, 0, s.OrderBookCount())
	_, err = s.HandleDelta("BTC/USDC", delta(13, nil, nil))
	assert.ErrorIs(t, err, ErrOrderBookNotFound)
}

func TestOrderBookStore_BufferedReplayEqualsDirectApplication(t *testing.T) {
	deltas := []*OrderBookUpdate{
		delta(9, []LevelUpdate{{Price: "50", Amount: "9"}}, nil), // older than snapshot
		delta(11, []LevelUpdate{{Price: "100", Amount: "0"}}, []LevelUpdate{{Price: "102", Amount: "1"}}),
		delta(12, []LevelUpdate{{Price: "99.5", Amount: "4"}}, nil),
		delta(13, nil, []LevelUpdate{{Price: "101", Amount: "0.5"}, {Price: "102", Amount: "0"}}),
	}

	buffered := NewOrderBookStore(NewDeltaApplier(nil), 0)
	buffered.Open("BTC/USDC", BookOptions{})
	for _, u := range deltas {
		_, err := buffered.HandleDelta("BTC/USDC", u)
		require.NoError(t, err)
	}
	replayed, err := buffered.InstallSnapshot("BTC/USDC", restSnapshot(10))
	require.NoError(t, err)

	direct := NewOrderBookStore(NewDeltaApplier(nil), 0)
	direct.Open("BTC/USDC", BookOptions{})
	_, err = direct.InstallSnapshot("BTC/USDC", restSnapshot(10))
	require.NoError(t, err)
	for _, u := range deltas {
		_, err := direct.HandleDelta("BTC/USDC", u)
		require.NoError(t, err)
	}
	applied, _ := direct.Book("BTC/USDC")

	assert.Equal(t, applied.TakeSnapshot(0), replayed.TakeSnapshot(0))
	assert.Equal(t, int64(13), replayed.Nonce())
}

func TestOrderBookStore_FetchFailedStaysRetryable(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(nil), 0)
	s.Open("BTC/USDC", BookOptions{})
	s.FetchStarted("BTC/USDC", func() {})

	s.FetchFailed("BTC/USDC")

	assert.Equal(t, StateBuffering, s.State("BTC/USDC"))
	_, _, needFetch := s.Open("BTC/USDC", BookOptions{})
	assert.True(t, needFetch)
}

func TestOrderBookStore_CloseCancelsFetch(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(nil), 0)
	s.Open("BTC/USDC", BookOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	s.FetchStarted("BTC/USDC", cancel)
	_, err := s.HandleDelta("BTC/USDC", delta(11, nil, nil))
	require.NoError(t, err)

	book, _ := s.Book("BTC/USDC")
	s.Close("BTC/USDC")

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 0, book.PendingLen())
	_, err = s.InstallSnapshot("BTC/USDC", restSnapshot(10))
	assert.ErrorIs(t, err, ErrOrderBookNotFound)
}

func TestOrderBookStore_StreamSnapshot(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(nil), 0)
	opts := BookOptions{Indexed: true, StreamSnapshot: true}

	_, _, needFetch := s.Open("BTC/USD", opts)
	assert.False(t, needFetch)

	_, err := s.HandleDelta("BTC/USD", &OrderBookUpdate{Bids: []LevelUpdate{{ID: "1", Price: "1", Amount: "1"}}})
	require.NoError(t, err)

	partial := &OrderBookSnapshot{Bids: []PriceLevel{{Price: d("3607.5"), Amount: d("100"), ID: "8799639250"}}}
	book, err := s.InstallSnapshot("BTC/USD", partial)
	require.NoError(t, err)
	assert.Equal(t, []string{"3607.5"}, prices(book.Bids(0)), "partial supersedes buffered updates")

	applied, err := s.HandleDelta("BTC/USD", &OrderBookUpdate{Bids: []LevelUpdate{{ID: "8799639250", Amount: "5", Restore: true}}})
	require.NoError(t, err)
	assert.True(t, applied)

	// a later partial re-initializes the book
	book, err = s.InstallSnapshot("BTC/USD", &OrderBookSnapshot{Asks: []PriceLevel{{Price: d("3608"), Amount: d("1"), ID: "x"}}})
	require.NoError(t, err)
	assert.Empty(t, book.Bids(0))
	assert.Len(t, book.Asks(0), 1)
}

func gap(first, last int64) *OrderBookUpdate {
	return &OrderBookUpdate{FirstNonce: first, Nonce: last}
}

func TestOrderBookStore_GapResyncsAtOnce(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(ContinuousValidator{}), 2)
	s.Open("BTC/USDT", BookOptions{})
	_, err := s.InstallSnapshot("BTC/USDT", restSnapshot(10))
	require.NoError(t, err)

	_, err = s.HandleDelta("BTC/USDT", gap(20, 21))
	assert.ErrorIs(t, err, ErrOrderBookResyncRequired)
	assert.Equal(t, StateBuffering, s.State("BTC/USDT"), "a book missing an update is not served")
	book, _ := s.Book("BTC/USDT")
	assert.Empty(t, book.Bids(0))
	assert.Equal(t, 1, book.PendingLen(), "the update after the gap waits for the next snapshot")

	_, _, needFetch := s.Open("BTC/USDT", BookOptions{})
	assert.True(t, needFetch)

	_, err = s.HandleDelta("BTC/USDT", gap(22, 23))
	require.NoError(t, err)
	book, err = s.InstallSnapshot("BTC/USDT", restSnapshot(21))
	require.NoError(t, err)
	assert.Equal(t, StateSynced, s.State("BTC/USDT"))
	assert.Equal(t, int64(23), book.Nonce())
}

func TestOrderBookStore_GapLimitGivesUp(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(ContinuousValidator{}), 2)
	s.Open("BTC/USDT", BookOptions{})

	nonce := int64(10)
	for i := 0; i < 2; i++ {
		_, err := s.InstallSnapshot("BTC/USDT", restSnapshot(nonce))
		require.NoError(t, err)
		_, err = s.HandleDelta("BTC/USDT", gap(nonce+5, nonce+6))
		require.ErrorIs(t, err, ErrOrderBookResyncRequired)
		nonce += 10
	}

	_, err := s.InstallSnapshot("BTC/USDT", restSnapshot(nonce))
	require.NoError(t, err)
	_, err = s.HandleDelta("BTC/USDT", gap(nonce+5, nonce+6))
	assert.ErrorIs(t, err, ErrOrderBookGapLimit)
	assert.Equal(t, StateBuffering, s.State("BTC/USDT"))
}

func TestOrderBookStore_LiveUpdateResetsGapCount(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(ContinuousValidator{}), 1)
	s.Open("BTC/USDT", BookOptions{})

	for _, nonce := range []int64{10, 20, 30} {
		_, err := s.InstallSnapshot("BTC/USDT", restSnapshot(nonce))
		require.NoError(t, err)
		applied, err := s.HandleDelta("BTC/USDT", gap(nonce+1, nonce+1))
		require.NoError(t, err)
		require.True(t, applied)
		_, err = s.HandleDelta("BTC/USDT", gap(nonce+5, nonce+6))
		require.ErrorIs(t, err, ErrOrderBookResyncRequired)
	}
}

func TestOrderBookStore_FetchIDs(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(nil), 0)
	assert.Zero(t, s.FetchStarted("BTC/USDC", func() {}), "no book, no fetch")

	s.Open("BTC/USDC", BookOptions{})
	first := s.FetchStarted("BTC/USDC", func() {})
	assert.True(t, s.FetchPending("BTC/USDC", first))

	s.FetchFailed("BTC/USDC")
	assert.False(t, s.FetchPending("BTC/USDC", first))

	second := s.FetchStarted("BTC/USDC", func() {})
	assert.NotEqual(t, first, second)
	s.Close("BTC/USDC")
	s.Open("BTC/USDC", BookOptions{})
	assert.False(t, s.FetchPending("BTC/USDC", second), "a reopened book does not take the old fetch")

	third := s.FetchStarted("BTC/USDC", func() {})
	_, err := s.InstallSnapshot("BTC/USDC", restSnapshot(10))
	require.NoError(t, err)
	assert.False(t, s.FetchPending("BTC/USDC", third))
}

func TestOrderBookStore_PendingIsCapped(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(MonotonicValidator{}), 0)
	s.maxPending = 3
	s.Open("BTC/USDC", BookOptions{})

	for nonce := int64(11); nonce <= 15; nonce++ {
		_, err := s.HandleDelta("BTC/USDC", delta(nonce, []LevelUpdate{{Price: "99", Amount: "1"}}, nil))
		require.NoError(t, err)
	}
	book, _ := s.Book("BTC/USDC")
	assert.Equal(t, 3, book.PendingLen())

	book, err := s.InstallSnapshot("BTC/USDC", restSnapshot(10))
	require.NoError(t, err)
	assert.Equal(t, int64(15), book.Nonce())
}

func TestOrderBookStore_SnapshotOlderThanStream(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(ContinuousValidator{}), 0)
	s.Open("BTC/USDT", BookOptions{})
	_, err := s.HandleDelta("BTC/USDT", &OrderBookUpdate{FirstNonce: 50, Nonce: 55})
	require.NoError(t, err)

	book, err := s.InstallSnapshot("BTC/USDT", restSnapshot(10))
	assert.ErrorIs(t, err, ErrOrderBookResyncRequired)
	assert.Equal(t, StateBuffering, s.State("BTC/USDT"))
	assert.Equal(t, 1, book.PendingLen(), "buffered updates are kept for the next snapshot")

	book, err = s.InstallSnapshot("BTC/USDT", restSnapshot(52))
	require.NoError(t, err)
	assert.Equal(t, int64(55), book.Nonce())
}

func TestOrderBookStore_StaleSnapshotsCountTowardsGapLimit(t *testing.T) {
	s := NewOrderBookStore(NewDeltaApplier(ContinuousValidator{}), 1)
	s.Open("BTC/USDT", BookOptions{})
	_, err := s.HandleDelta("BTC/USDT", gap(50, 55))
	require.NoError(t, err)

	_, err = s.InstallSnapshot("BTC/USDT", restSnapshot(10))
	require.ErrorIs(t, err, ErrOrderBookResyncRequired)
	_, err = s.InstallSnapshot("BTC/USDT", restSnapshot(20))
	assert.ErrorIs(t, err, ErrOrderBookGapLimit)
}
