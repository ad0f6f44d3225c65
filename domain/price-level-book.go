package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

type Side int

const (
	SideBids Side = iota
	SideAsks
)

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	ID     string          `json:"id,omitempty"`
}

// PriceLevelBook is one side of an order book, kept sorted best-first:
// bids descending, asks ascending. Indexed books key levels by exchange id,
// so several levels may share a price.
type PriceLevelBook struct {
	side    Side
	indexed bool
	levels  []PriceLevel
	index   map[string]decimal.Decimal
}

func NewPriceLevelBook(side Side, indexed bool) *PriceLevelBook {
	b := &PriceLevelBook{side: side, indexed: indexed}
	if indexed {
		b.index = make(map[string]decimal.Decimal)
	}
	return b
}

func (b *PriceLevelBook) Side() Side { return b.side }

func (b *PriceLevelBook) Len() int { return len(b.levels) }

// Store upserts a level. A non-positive amount removes it.
func (b *PriceLevelBook) Store(price, amount decimal.Decimal, id string) {
	if b.indexed && id != "" {
		b.storeByID(price, amount, id)
		return
	}

	i := b.search(price)
	found := i < len(b.levels) && b.levels[i].Price.Equal(price)

	if !amount.IsPositive() {
		if found {
			b.removeAt(i)
		}
		return
	}

	if found {
		b.levels[i].Amount = amount
		return
	}
	b.insertAt(i, PriceLevel{Price: price, Amount: amount})
}

// Restore applies an update that may omit the price: the level is looked up
// by id first and by price otherwise. It reports false when neither is known.
func (b *PriceLevelBook) Restore(price decimal.NullDecimal, amount decimal.Decimal, id string) bool {
	if b.indexed && id != "" {
		if known, ok := b.index[id]; ok {
			p := known
			if price.Valid {
				p = price.Decimal
			}
			b.storeByID(p, amount, id)
			return true
		}
	}

	if !price.Valid {
		return false
	}

	b.Store(price.Decimal, amount, id)
	return true
}

// Limit returns a copy of the best n levels, or all of them when n <= 0.
func (b *PriceLevelBook) Limit(n int) []PriceLevel {
	if n <= 0 || n > len(b.levels) {
		n = len(b.levels)
	}
	out := make([]PriceLevel, n)
	copy(out, b.levels[:n])
	return out
}

func (b *PriceLevelBook) Best() (PriceLevel, bool) {
	if len(b.levels) == 0 {
		return PriceLevel{}, false
	}
	return b.levels[0], true
}

func (b *PriceLevelBook) Clear() {
	b.levels = b.levels[:0]
	if b.indexed {
		b.index = make(map[string]decimal.Decimal)
	}
}

func (b *PriceLevelBook) storeByID(price, amount decimal.Decimal, id string) {
	if known, ok := b.index[id]; ok {
		b.removeID(known, id)
		delete(b.index, id)
	}

	if !amount.IsPositive() {
		return
	}

	i := b.search(price)
	for i < len(b.levels) && b.levels[i].Price.Equal(price) && b.levels[i].ID < id {
		i++
	}
	b.insertAt(i, PriceLevel{Price: price, Amount: amount, ID: id})
	b.index[id] = price
}

func (b *PriceLevelBook) removeID(price decimal.Decimal, id string) {
	for i := b.search(price); i < len(b.levels) && b.levels[i].Price.Equal(price); i++ {
		if b.levels[i].ID == id {
			b.removeAt(i)
			return
		}
	}
}

// search returns the first position whose price is not better than price.
func (b *PriceLevelBook) search(price decimal.Decimal) int {
	return sort.Search(len(b.levels), func(i int) bool {
		if b.side == SideBids {
			return !b.levels[i].Price.GreaterThan(price)
		}
		return !b.levels[i].Price.LessThan(price)
	})
}

func (b *PriceLevelBook) insertAt(i int, level PriceLevel) {
	b.levels = append(b.levels, PriceLevel{})
	copy(b.levels[i+1:], b.levels[i:])
	b.levels[i] = level
}

func (b *PriceLevelBook) removeAt(i int) {
	b.levels = append(b.levels[:i], b.levels[i+1:]...)
}
