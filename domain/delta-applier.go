package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DeltaApplier is the only path that mutates a synced book's levels.
type DeltaApplier struct {
	validator DepthUpdateValidator
}

func NewDeltaApplier(validator DepthUpdateValidator) *DeltaApplier {
	if validator == nil {
		validator = MonotonicValidator{}
	}
	return &DeltaApplier{validator: validator}
}

type parsedLevel struct {
	price   decimal.NullDecimal
	amount  decimal.Decimal
	id      string
	restore bool
}

// Apply validates the update against the book nonce, parses every level and
// only then mutates the book. On error the book is left untouched.
func (a *DeltaApplier) Apply(ob *OrderBook, update *OrderBookUpdate) error {
	prior := ob.nonce
	if update.Nonce != 0 && prior != 0 {
		if err := a.validator.IsValidUpd(update, prior); err != nil {
			return err
		}
	}

	bids, err := parseLevels(update.Bids, prior)
	if err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(update.Asks, prior)
	if err != nil {
		return fmt.Errorf("asks: %w", err)
	}

	applyLevels(ob.bids, bids)
	applyLevels(ob.asks, asks)

	if update.Nonce != 0 {
		ob.nonce = update.Nonce
	}
	if !update.Timestamp.IsZero() {
		ob.Timestamp = update.Timestamp
	}
	return nil
}

func parseLevels(levels []LevelUpdate, prior int64) ([]parsedLevel, error) {
	out := make([]parsedLevel, 0, len(levels))
	for i, l := range levels {
		// already contained in the snapshot
		if l.Sequence != 0 && l.Sequence <= prior {
			continue
		}

		p := parsedLevel{id: l.ID, restore: l.Restore, amount: decimal.Zero}
		if l.Price != "" {
			price, err := decimal.NewFromString(l.Price)
			if err != nil {
				return nil, fmt.Errorf("%w: level %d price %q", ErrMalformedDelta, i, l.Price)
			}
			p.price = decimal.NullDecimal{Decimal: price, Valid: true}
		} else if l.ID == "" {
			return nil, fmt.Errorf("%w: level %d has neither price nor id", ErrMalformedDelta, i)
		}

		if l.Amount != "" {
			amount, err := decimal.NewFromString(l.Amount)
			if err != nil {
				return nil, fmt.Errorf("%w: level %d amount %q", ErrMalformedDelta, i, l.Amount)
			}
			p.amount = amount
		}
		out = append(out, p)
	}
	return out, nil
}

func applyLevels(book *PriceLevelBook, levels []parsedLevel) {
	for _, l := range levels {
		if l.restore || !l.price.Valid {
			book.Restore(l.price, l.amount, l.id)
			continue
		}
		book.Store(l.price.Decimal, l.amount, l.id)
	}
}
