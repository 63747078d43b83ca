package services

import (
	"context"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/pkg/logger"
	"bidding-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// AuctionLifecycle owns the listing state machine around the bid engine:
// publish, open, close, cancel, status reads, and anti-snipe extension.
type AuctionLifecycle struct {
	store       domain.ListingStore
	scheduler   domain.AuctionScheduler
	increments  domain.IncrementSource
	notifier    domain.NotificationPort
	events      domain.EventPublisher
	clock       domain.Clock
	snipeWindow time.Duration
	log         logger.Logger
}

func NewAuctionLifecycle(
	store domain.ListingStore,
	increments domain.IncrementSource,
	notifier domain.NotificationPort,
	events domain.EventPublisher,
	clock domain.Clock,
	snipeWindow time.Duration,
	log logger.Logger,
) *AuctionLifecycle {
	return &AuctionLifecycle{
		store:       store,
		increments:  increments,
		notifier:    notifier,
		events:      events,
		clock:       clock,
		snipeWindow: snipeWindow,
		log:         log,
	}
}

// SetScheduler wires the close scheduler after construction; the scheduler
// itself needs the lifecycle to execute jobs.
func (l *AuctionLifecycle) SetScheduler(scheduler domain.AuctionScheduler) {
	l.scheduler = scheduler
}

// CreateAuction publishes a listing for bidding. The auction starts out
// scheduled; the sweep opens it at start time and closes it at end time.
func (l *AuctionLifecycle) CreateAuction(ctx context.Context, sellerID string, startingPrice decimal.Decimal, reservePrice *decimal.Decimal, startTime, endTime time.Time) (*domain.Auction, error) {
	if sellerID == "" {
		return nil, domain.NewValidation("missing_identifier", "seller id is required")
	}
	if startingPrice.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidation("invalid_amount", "starting price must be positive")
	}
	if reservePrice != nil && reservePrice.LessThan(startingPrice) {
		return nil, domain.NewValidation("invalid_reserve", "reserve price cannot be below the starting price")
	}
	if !endTime.After(startTime) {
		return nil, domain.NewValidation("invalid_window", "end time must be after start time")
	}
	if !endTime.After(l.clock.Now()) {
		return nil, domain.NewValidation("invalid_window", "end time must be in the future")
	}

	now := l.clock.Now()
	auction := &domain.Auction{
		ListingID:     utils.GenerateID("listing"),
		SellerID:      sellerID,
		StartingPrice: startingPrice,
		ReservePrice:  reservePrice,
		CurrentPrice:  startingPrice,
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        domain.AuctionScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.store.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	if err := l.scheduler.ScheduleOpen(ctx, auction.ListingID, startTime); err != nil {
		return nil, err
	}
	if err := l.scheduler.ScheduleClose(ctx, auction.ListingID, endTime); err != nil {
		return nil, err
	}

	l.log.Info("Auction created", "listing_id", auction.ListingID, "end_time", endTime)
	return auction, nil
}

// OpenAuction moves a scheduled listing to active. Safe to call repeatedly.
func (l *AuctionLifecycle) OpenAuction(ctx context.Context, listingID string) error {
	return l.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if auction.Status != domain.AuctionScheduled {
			return nil
		}

		auction.Status = domain.AuctionActive
		auction.UpdatedAt = l.clock.Now()
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		l.log.Info("Auction opened", "listing_id", listingID)
		return nil
	})
}

// CloseAuction freezes further bidding once the end time has passed and
// settles the outcome: sold when a winning bid exists and the reserve (if
// any) is met, ended otherwise. Idempotent on terminal listings.
func (l *AuctionLifecycle) CloseAuction(ctx context.Context, listingID string) (*domain.Auction, error) {
	var (
		closed   *domain.Auction
		winnerID string
		price    decimal.Decimal
	)

	err := l.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if auction.Status.Terminal() {
			closed = auction
			return nil
		}

		bids, err := tx.ActiveBids(ctx)
		if err != nil {
			return err
		}
		for _, b := range bids {
			if b.IsWinning {
				winnerID = b.BidderID
				price = b.Amount
			}
		}

		reserveMet := auction.ReservePrice == nil || auction.CurrentPrice.GreaterThanOrEqual(*auction.ReservePrice)
		if winnerID != "" && reserveMet {
			auction.Status = domain.AuctionSold
		} else {
			auction.Status = domain.AuctionEnded
			winnerID = ""
		}

		if err := tx.DeactivateProxyBids(ctx); err != nil {
			return err
		}

		auction.UpdatedAt = l.clock.Now()
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		closed = auction
		return nil
	})
	if err != nil {
		return nil, err
	}

	if closed.Status == domain.AuctionSold && winnerID != "" {
		l.afterClose(listingID, winnerID, price)
	}
	return closed, nil
}

// CancelAuction withdraws a pre-terminal listing. Seller only.
func (l *AuctionLifecycle) CancelAuction(ctx context.Context, listingID, requesterID string) (*domain.Auction, error) {
	var cancelled *domain.Auction
	err := l.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if requesterID != auction.SellerID {
			return domain.NewUnauthorized("not_seller", "only the seller may cancel a listing")
		}
		if auction.Status.Terminal() {
			return domain.NewPrecondition("auction_closed", "auction is already settled")
		}

		auction.Status = domain.AuctionCancelled
		auction.UpdatedAt = l.clock.Now()
		if err := tx.DeactivateProxyBids(ctx); err != nil {
			return err
		}
		if err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}
		cancelled = auction
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := l.scheduler.CancelSchedule(ctx, listingID); err != nil {
		l.log.Error("Failed to cancel scheduled jobs", "listing_id", listingID, "error", err)
	}
	l.log.Info("Auction cancelled", "listing_id", listingID)
	return cancelled, nil
}

// GetAuctionStatus returns the public snapshot of a listing without taking
// the listing lock.
func (l *AuctionLifecycle) GetAuctionStatus(ctx context.Context, listingID string) (*domain.AuctionStatusView, error) {
	auction, err := l.store.GetAuction(ctx, listingID)
	if err != nil {
		return nil, err
	}

	minimum := auction.StartingPrice
	if auction.BidCount > 0 {
		minimum = l.increments.MinimumBid(auction.CurrentPrice)
	}

	return &domain.AuctionStatusView{
		ListingID:    auction.ListingID,
		CurrentPrice: auction.CurrentPrice,
		MinimumBid:   minimum,
		BidCount:     auction.BidCount,
		EndTime:      auction.EndTime,
		Status:       auction.Status,
	}, nil
}

// CheckAndExtend pushes the end time out when a bid lands inside the snipe
// window. A zero window disables extension.
func (l *AuctionLifecycle) CheckAndExtend(ctx context.Context, listingID string) error {
	if l.snipeWindow <= 0 {
		return nil
	}

	var newEnd time.Time
	err := l.store.WithListing(ctx, listingID, func(tx domain.ListingTx) error {
		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if auction.Status != domain.AuctionActive {
			return nil
		}

		now := l.clock.Now()
		untilEnd := auction.EndTime.Sub(now)
		if untilEnd <= 0 || untilEnd > l.snipeWindow {
			return nil
		}

		newEnd = now.Add(l.snipeWindow)
		auction.EndTime = newEnd
		auction.UpdatedAt = now
		return tx.UpdateAuction(ctx, auction)
	})
	if err != nil || newEnd.IsZero() {
		return err
	}

	if err := l.scheduler.RescheduleClose(ctx, listingID, newEnd); err != nil {
		return err
	}
	l.log.Info("Auction extended", "listing_id", listingID, "new_end_time", newEnd)
	return nil
}

func (l *AuctionLifecycle) afterClose(listingID, winnerID string, price decimal.Decimal) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := l.events.PublishBidEvent(ctx, &domain.BidEvent{
			Type:      domain.AuctionClosed,
			ListingID: listingID,
			BidderID:  winnerID,
			Amount:    price,
			Timestamp: l.clock.Now(),
		}); err != nil {
			l.log.Error("Failed to publish close event", "listing_id", listingID, "error", err)
		}

		notifyWithRetry(ctx, l.log, func() error {
			return l.notifier.NotifyWon(ctx, winnerID, listingID, price)
		}, "won", winnerID, listingID)
	}()
}
