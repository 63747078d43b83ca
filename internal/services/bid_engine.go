package services

import (
	"context"
	"fmt"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/pkg/logger"
	"bidding-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// AuctionExtender is the hook the engine fires after an accepted bid so the
// lifecycle can apply anti-snipe extension. Set late to break the
// construction cycle with AuctionLifecycle.
type AuctionExtender interface {
	CheckAndExtend(ctx context.Context, listingID string) error
}

// BidEngine accepts direct and proxy bids on a listing. Every mutation runs
// inside ListingStore.WithListing, so calls for the same listing are totally
// ordered and all-or-nothing. Notifications and events go out only after the
// unit commits.
type BidEngine struct {
	store      domain.ListingStore
	increments domain.IncrementSource
	notifier   domain.NotificationPort
	events     domain.EventPublisher
	clock      domain.Clock
	extender   AuctionExtender
	log        logger.Logger
}

func NewBidEngine(
	store domain.ListingStore,
	increments domain.IncrementSource,
	notifier domain.NotificationPort,
	events domain.EventPublisher,
	clock domain.Clock,
	log logger.Logger,
) *BidEngine {
	return &BidEngine{
		store:      store,
		increments: increments,
		notifier:   notifier,
		events:     events,
		clock:      clock,
		log:        log,
	}
}

func (e *BidEngine) SetExtender(extender AuctionExtender) {
	e.extender = extender
}

// PlaceBid inserts a direct bid at amount.
func (e *BidEngine) PlaceBid(ctx context.Context, listingID, bidderID string, amount decimal.Decimal) (*domain.BidResult, error) {
	if listingID == "" || bidderID == "" {
		return nil, domain.NewValidation("missing_identifier", "listing id and bidder id are required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidation("invalid_amount", "bid amount must be positive")
	}

	e.log.Info("Placing bid", "listing_id", listingID, "bidder_id", bidderID, "amount", amount)

	var (
		result *domain.BidResult
		outbid []string
	)

	err := e.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if err := e.checkBiddable(auction, bidderID, now); err != nil {
			return err
		}

		minimum := e.minimumBid(auction)
		if amount.LessThan(minimum) {
			return domain.NewPrecondition("bid_too_low",
				fmt.Sprintf("bid %s is below the minimum %s", amount, minimum))
		}

		prior, err := tx.ActiveBids(ctx)
		if err != nil {
			return err
		}
		for _, b := range prior {
			if b.IsWinning {
				if err := tx.SetBidWinning(ctx, b.ID, false); err != nil {
					return err
				}
			}
		}

		bid := &domain.Bid{
			ID:        utils.GenerateID("bid"),
			ListingID: listingID,
			BidderID:  bidderID,
			Amount:    amount,
			IsWinning: true,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}

		auction.CurrentPrice = amount
		auction.BidCount++
		auction.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		outbid = distinctBidders(prior, bidderID)
		result = &domain.BidResult{
			Bid:          bid,
			CurrentPrice: amount,
			MinimumBid:   e.increments.MinimumBid(amount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterAccept(listingID, bidderID, result.CurrentPrice, outbid)
	return result, nil
}

// PlaceProxyBid registers or raises a bidder's maximum and re-resolves the
// proxy competition for the listing.
func (e *BidEngine) PlaceProxyBid(ctx context.Context, listingID, bidderID string, maxAmount decimal.Decimal) (*domain.ProxyResult, error) {
	if listingID == "" || bidderID == "" {
		return nil, domain.NewValidation("missing_identifier", "listing id and bidder id are required")
	}
	if maxAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidation("invalid_amount", "maximum bid must be positive")
	}

	e.log.Info("Placing proxy bid", "listing_id", listingID, "bidder_id", bidderID, "max_amount", maxAmount)

	var (
		result   *domain.ProxyResult
		accepted bool
		newPrice decimal.Decimal
		winnerID string
		outbid   []string
	)

	err := e.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		if err := e.checkBiddable(auction, bidderID, now); err != nil {
			return err
		}

		minimum := e.minimumBid(auction)
		if maxAmount.LessThan(minimum) {
			return domain.NewPrecondition("max_bid_too_low",
				fmt.Sprintf("maximum %s is below the minimum bid %s", maxAmount, minimum))
		}

		existing, err := tx.ProxyBid(ctx, bidderID)
		if err != nil {
			return err
		}
		if existing != nil && existing.IsActive {
			// A maximum may only ever go up.
			if maxAmount.LessThan(existing.MaxAmount) {
				return domain.NewPrecondition("max_bid_lowered",
					fmt.Sprintf("maximum %s is below the registered maximum %s", maxAmount, existing.MaxAmount))
			}
			existing.MaxAmount = maxAmount
			existing.UpdatedAt = now
			if err := tx.UpsertProxyBid(ctx, existing); err != nil {
				return err
			}
		} else {
			if err := tx.UpsertProxyBid(ctx, &domain.ProxyBid{
				ListingID:     listingID,
				BidderID:      bidderID,
				MaxAmount:     maxAmount,
				CurrentAmount: decimal.Zero,
				IsActive:      true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}); err != nil {
				return err
			}
		}

		changed, exposed, winner, beaten, err := e.resolveProxies(ctx, tx, auction, now)
		if err != nil {
			return err
		}

		accepted = changed
		newPrice = exposed
		winnerID = winner
		outbid = beaten
		result = &domain.ProxyResult{
			IsWinning:    winner == bidderID,
			CurrentPrice: exposed,
			MaxAmount:    maxAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if accepted {
		e.afterAccept(listingID, winnerID, newPrice, outbid)
	}
	return result, nil
}

// resolveProxies runs second-price resolution over the listing's active
// proxy rows. Returns whether a new ledger entry was written, the exposed
// price, the winning bidder, and the bidders to notify as outbid.
func (e *BidEngine) resolveProxies(ctx context.Context, tx domain.ListingTx, auction *domain.Auction, now time.Time) (bool, decimal.Decimal, string, []string, error) {
	rows, err := tx.ActiveProxyBids(ctx)
	if err != nil {
		return false, decimal.Zero, "", nil, err
	}
	if len(rows) == 0 {
		return false, auction.CurrentPrice, "", nil, nil
	}

	prior, err := tx.ActiveBids(ctx)
	if err != nil {
		return false, decimal.Zero, "", nil, err
	}
	priorWinner := ""
	for _, b := range prior {
		if b.IsWinning {
			priorWinner = b.BidderID
		}
	}

	winner := rows[0]
	var exposed decimal.Decimal
	switch {
	case len(rows) == 1 && winner.BidderID == priorWinner:
		// Already in the lead with no competition; nothing to push against.
		exposed = auction.CurrentPrice
	case len(rows) == 1:
		exposed = decimal.Min(e.minimumBid(auction), winner.MaxAmount)
	case winner.MaxAmount.GreaterThan(rows[1].MaxAmount):
		second := rows[1].MaxAmount
		exposed = decimal.Min(second.Add(e.increments.IncrementFor(second)), winner.MaxAmount)
	default:
		// Tied maxima: the earlier registrant wins at the tied amount
		// itself, no increment on top.
		exposed = winner.MaxAmount
	}

	// Resolution never lowers the exposed price.
	if exposed.LessThan(auction.CurrentPrice) {
		exposed = auction.CurrentPrice
	}

	changed := exposed.GreaterThan(auction.CurrentPrice) || priorWinner != winner.BidderID
	if changed {
		for _, b := range prior {
			if b.IsWinning {
				if err := tx.SetBidWinning(ctx, b.ID, false); err != nil {
					return false, decimal.Zero, "", nil, err
				}
			}
		}
		if err := tx.InsertBid(ctx, &domain.Bid{
			ID:             utils.GenerateID("bid"),
			ListingID:      auction.ListingID,
			BidderID:       winner.BidderID,
			Amount:         exposed,
			IsProxyDerived: true,
			IsWinning:      true,
			CreatedAt:      now,
		}); err != nil {
			return false, decimal.Zero, "", nil, err
		}

		auction.CurrentPrice = exposed
		auction.BidCount++
		auction.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return false, decimal.Zero, "", nil, err
		}
	}

	// Exactly one registry row carries the winning flag.
	for _, row := range rows {
		isWinner := row.BidderID == winner.BidderID
		if isWinner == row.IsWinning && !isWinner {
			continue
		}
		row.IsWinning = isWinner
		if isWinner {
			row.CurrentAmount = exposed
		}
		row.UpdatedAt = now
		if err := tx.UpsertProxyBid(ctx, row); err != nil {
			return false, decimal.Zero, "", nil, err
		}
	}

	var beaten []string
	if changed {
		seen := map[string]bool{winner.BidderID: true}
		for _, b := range prior {
			if !seen[b.BidderID] {
				seen[b.BidderID] = true
				beaten = append(beaten, b.BidderID)
			}
		}
		for _, row := range rows {
			if !seen[row.BidderID] {
				seen[row.BidderID] = true
				beaten = append(beaten, row.BidderID)
			}
		}
	}

	return changed, exposed, winner.BidderID, beaten, nil
}

func (e *BidEngine) checkBiddable(auction *domain.Auction, bidderID string, now time.Time) error {
	if auction.Status != domain.AuctionActive {
		return domain.NewPrecondition("auction_not_active",
			fmt.Sprintf("auction is %s", auction.Status))
	}
	if !now.Before(auction.EndTime) {
		return domain.NewPrecondition("auction_ended", "auction end time has passed")
	}
	if bidderID == auction.SellerID {
		return domain.NewPrecondition("seller_self_bid", "sellers cannot bid on their own listing")
	}
	return nil
}

// minimumBid is the lowest acceptable bid right now: the starting price while
// the ledger is empty, one increment over the current price after that.
func (e *BidEngine) minimumBid(auction *domain.Auction) decimal.Decimal {
	if auction.BidCount == 0 {
		return auction.StartingPrice
	}
	return e.increments.MinimumBid(auction.CurrentPrice)
}

// afterAccept runs the post-commit side effects of an accepted bid. None of
// them can fail the bid; delivery problems are logged and retried in the
// background.
func (e *BidEngine) afterAccept(listingID, bidderID string, price decimal.Decimal, outbid []string) {
	event := &domain.BidEvent{
		Type:      domain.BidAccepted,
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    price,
		Timestamp: e.clock.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.events.PublishBidEvent(ctx, event); err != nil {
			e.log.Error("Failed to publish bid event", "listing_id", listingID, "error", err)
		}

		for _, userID := range outbid {
			notifyWithRetry(ctx, e.log, func() error {
				return e.notifier.NotifyOutbid(ctx, userID, listingID, price)
			}, "outbid", userID, listingID)
		}

		if e.extender != nil {
			if err := e.extender.CheckAndExtend(ctx, listingID); err != nil {
				e.log.Error("Failed to check auction extension", "listing_id", listingID, "error", err)
			}
		}
	}()
}

// distinctBidders returns the unique bidder ids in bids, excluding skip.
func distinctBidders(bids []*domain.Bid, skip string) []string {
	seen := map[string]bool{skip: true}
	var out []string
	for _, b := range bids {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			out = append(out, b.BidderID)
		}
	}
	return out
}

// notifyWithRetry delivers a notification with a couple of retries. Failures
// never propagate to the bid path.
func notifyWithRetry(ctx context.Context, log logger.Logger, send func() error, kind, userID, listingID string) {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = send(); err == nil {
			return
		}
		select {
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
	log.Error("Failed to deliver notification", "kind", kind,
		"user_id", userID, "listing_id", listingID, "error", err)
}
