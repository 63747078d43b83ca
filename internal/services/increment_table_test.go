package services

import (
	"testing"

	"bidding-engine/internal/domain"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestIncrementTable_DefaultSchedule(t *testing.T) {
	t.Parallel()
	table, err := NewIncrementTable(DefaultBrackets())
	assert.NoError(t, err)

	cases := []struct {
		amount string
		step   string
	}{
		{"0", "0.05"},
		{"0.99", "0.05"},
		{"1", "0.25"},     // boundary falls into the higher bracket
		{"4.99", "0.25"},
		{"5", "0.50"},
		{"24.99", "0.50"},
		{"25", "1.00"},
		{"99.99", "1.00"},
		{"100", "2.50"},
		{"250", "5.00"},
		{"500", "10.00"},
		{"1000", "25.00"},
		{"1000000", "25.00"}, // past the last bracket the last step applies
	}
	for _, tc := range cases {
		check.Equal(t, dec(tc.step), table.IncrementFor(dec(tc.amount)))
	}
}

func TestIncrementTable_MinimumBid(t *testing.T) {
	t.Parallel()
	table, err := NewIncrementTable(DefaultBrackets())
	assert.NoError(t, err)

	check.Equal(t, dec("26"), table.MinimumBid(dec("25")))
	check.Equal(t, dec("102.50"), table.MinimumBid(dec("100")))
	check.Equal(t, dec("3.75"), table.MinimumBid(dec("3.50")))
}

func TestIncrementTable_UnsortedInputIsSorted(t *testing.T) {
	t.Parallel()
	table, err := NewIncrementTable([]domain.IncrementBracket{
		{Lower: dec("100"), Step: dec("10")},
		{Lower: dec("0"), Step: dec("1")},
	})
	assert.NoError(t, err)
	check.Equal(t, dec("1"), table.IncrementFor(dec("50")))
	check.Equal(t, dec("10"), table.IncrementFor(dec("100")))
}

func TestIncrementTable_RejectsBadBrackets(t *testing.T) {
	t.Parallel()

	_, err := NewIncrementTable(nil)
	assert.Error(t, err)
	check.Equal(t, "empty_brackets", domain.CodeOf(err))

	_, err = NewIncrementTable([]domain.IncrementBracket{
		{Lower: dec("0"), Step: dec("0")},
	})
	assert.Error(t, err)
	check.Equal(t, "invalid_bracket", domain.CodeOf(err))

	_, err = NewIncrementTable([]domain.IncrementBracket{
		{Lower: dec("0"), Step: dec("1")},
		{Lower: dec("0"), Step: dec("2")},
	})
	assert.Error(t, err)
	check.Equal(t, "invalid_bracket", domain.CodeOf(err))
}
