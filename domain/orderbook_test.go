package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T) *OrderBookSnapshot {
	bids, err := ParsePriceLevels([][]string{{"10000", "1"}, {"9900", "2"}})
	require.NoError(t, err)
	asks, err := ParsePriceLevels([][]string{{"10.300", "1.5"}, {"10200", "2.5"}})
	require.NoError(t, err)

	return &OrderBookSnapshot{
		Source: OrderBookSource_Provider,
		Nonce:  123,
		Bids:   bids,
		Asks:   asks,
	}
}

func TestOrderBook_Reset(t *testing.T) {
	ob := NewOrderBook("BTC/USDT", false)
	ob.reset(testSnapshot(t))

	assert.Equal(t, int64(123), ob.Nonce())
	assert.Equal(t, []string{"10000", "9900"}, prices(ob.Bids(0)))
	assert.Equal(t, []string{"10.3", "10200"}, prices(ob.Asks(0)))
}

func TestOrderBook_ApplyUpdate(t *testing.T) {
	ob := NewOrderBook("BTC/USDT", false)
	ob.reset(testSnapshot(t))

	update := &OrderBookUpdate{
		Nonce: 124,
		Bids:  []LevelUpdate{{Price: "9800", Amount: "3"}},                                // adding new bid
		Asks:  []LevelUpdate{{Price: "10.3", Amount: "2"}, {Price: "10200", Amount: "0"}}, // updating and removing ask
	}

	err := NewDeltaApplier(MonotonicValidator{}).Apply(ob, update)
	require.NoError(t, err)

	assert.Equal(t, update.Nonce, ob.Nonce(), "nonce should match")
	assert.Equal(t, []string{"10000", "9900", "9800"}, prices(ob.Bids(0)))
	assert.Equal(t, []string{"10.3"}, prices(ob.Asks(0)))
	assert.True(t, ob.Asks(0)[0].Amount.Equal(d("2")))
}

func TestOrderBook_TakeSnapshot(t *testing.T) {
	ob := NewOrderBook("BTC/USDT", false)
	ob.reset(testSnapshot(t))

	result := ob.TakeSnapshot(1)

	assert.Equal(t, OrderBookSource_LocalOrderBook, result.Source)
	assert.Equal(t, "BTC/USDT", result.Symbol)
	assert.Equal(t, int64(123), result.Nonce)
	assert.Equal(t, []string{"10000"}, prices(result.Bids))
	assert.Equal(t, []string{"10.3"}, prices(result.Asks))

	full := ob.TakeSnapshot(0)
	assert.Len(t, full.Bids, 2)
	assert.Len(t, full.Asks, 2)
}

func TestLimitSnapshot(t *testing.T) {
	s := testSnapshot(t)

	limited := LimitSnapshot(s, 1)
	assert.Len(t, limited.Bids, 1)
	assert.Len(t, limited.Asks, 1)
	assert.Len(t, s.Bids, 2, "original is left intact")

	assert.Same(t, s, LimitSnapshot(s, 0))
}

func TestParsePriceLevels(t *testing.T) {
	levels, err := ParsePriceLevels([][]string{{"10000", "1"}, {"9900", "2", "ignored"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"10000", "9900"}, prices(levels))

	_, err = ParsePriceLevels([][]string{{"abc", "1"}})
	assert.Error(t, err)

	_, err = ParsePriceLevels([][]string{{"1"}})
	assert.ErrorIs(t, err, ErrMalformedDelta)
}
