package services

import (
	"sort"

	"bidding-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// IncrementTable maps a price to the minimum step to the next valid bid via
// ordered brackets. The highest bracket applies to any price at or above its
// lower bound.
type IncrementTable struct {
	brackets []domain.IncrementBracket
}

// DefaultBrackets is the stock increment schedule used when no custom
// brackets have been configured.
func DefaultBrackets() []domain.IncrementBracket {
	mk := func(lower, step string) domain.IncrementBracket {
		return domain.IncrementBracket{
			Lower: decimal.RequireFromString(lower),
			Step:  decimal.RequireFromString(step),
		}
	}
	return []domain.IncrementBracket{
		mk("0", "0.05"),
		mk("1", "0.25"),
		mk("5", "0.50"),
		mk("25", "1.00"),
		mk("100", "2.50"),
		mk("250", "5.00"),
		mk("500", "10.00"),
		mk("1000", "25.00"),
	}
}

func NewIncrementTable(brackets []domain.IncrementBracket) (*IncrementTable, error) {
	if len(brackets) == 0 {
		return nil, domain.NewValidation("empty_brackets", "increment table needs at least one bracket")
	}

	sorted := make([]domain.IncrementBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Lower.LessThan(sorted[j].Lower)
	})

	for i, b := range sorted {
		if b.Step.LessThanOrEqual(decimal.Zero) {
			return nil, domain.NewValidation("invalid_bracket", "bracket step must be positive")
		}
		if i > 0 && b.Lower.Equal(sorted[i-1].Lower) {
			return nil, domain.NewValidation("invalid_bracket", "duplicate bracket lower bound")
		}
	}

	return &IncrementTable{brackets: sorted}, nil
}

// IncrementFor returns the minimum step above amount. Never fails: amounts
// below the first bracket fall into it, amounts above the last bracket use
// the last bracket's step.
func (t *IncrementTable) IncrementFor(amount decimal.Decimal) decimal.Decimal {
	step := t.brackets[0].Step
	for _, b := range t.brackets {
		if amount.LessThan(b.Lower) {
			break
		}
		step = b.Step
	}
	return step
}

// MinimumBid returns the lowest acceptable next bid over current.
func (t *IncrementTable) MinimumBid(current decimal.Decimal) decimal.Decimal {
	return current.Add(t.IncrementFor(current))
}
