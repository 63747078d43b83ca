package services

import (
	"context"
	"encoding/json"
	"errors"

	"bidding-engine/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const incrementBracketsKey = "bid_increment_brackets"

// IncrementRuleDao loads the increment bracket schedule from Redis, seeding
// the default schedule on first use. It satisfies domain.IncrementSource.
type IncrementRuleDao struct {
	client *redis.Client
	table  *IncrementTable
}

func NewIncrementRuleDao(client *redis.Client) *IncrementRuleDao {
	return &IncrementRuleDao{client: client}
}

func (d *IncrementRuleDao) LoadRules(ctx context.Context) error {
	data, err := d.client.Get(ctx, incrementBracketsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// TODO: brackets should be configurable per listing category.
			table, terr := NewIncrementTable(DefaultBrackets())
			if terr != nil {
				return terr
			}
			d.table = table
			return d.saveRules(ctx)
		}
		return err
	}

	var brackets []domain.IncrementBracket
	if err := json.Unmarshal([]byte(data), &brackets); err != nil {
		return err
	}

	table, err := NewIncrementTable(brackets)
	if err != nil {
		return err
	}
	d.table = table
	return nil
}

func (d *IncrementRuleDao) saveRules(ctx context.Context) error {
	data, err := json.Marshal(d.table.brackets)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, incrementBracketsKey, string(data), 0).Err()
}

func (d *IncrementRuleDao) IncrementFor(amount decimal.Decimal) decimal.Decimal {
	return d.table.IncrementFor(amount)
}

func (d *IncrementRuleDao) MinimumBid(current decimal.Decimal) decimal.Decimal {
	return d.table.MinimumBid(current)
}
