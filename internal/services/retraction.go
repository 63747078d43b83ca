package services

import (
	"context"
	"fmt"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/pkg/logger"
	"bidding-engine/pkg/utils"
)

// RetractionWorkflow handles a bidder's request to withdraw a bid and the
// seller/admin review that follows. The approved path is the only way the
// current price may ever go down, so it runs under the same per-listing
// exclusivity as the bid engine.
type RetractionWorkflow struct {
	store  domain.ListingStore
	events domain.EventPublisher
	clock  domain.Clock
	cutoff time.Duration
	admins map[string]bool
	log    logger.Logger
}

func NewRetractionWorkflow(
	store domain.ListingStore,
	events domain.EventPublisher,
	clock domain.Clock,
	cutoff time.Duration,
	adminIDs []string,
	log logger.Logger,
) *RetractionWorkflow {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &RetractionWorkflow{
		store:  store,
		events: events,
		clock:  clock,
		cutoff: cutoff,
		admins: admins,
		log:    log,
	}
}

// RequestRetraction opens a retraction request for a bid. Only the original
// bidder may ask, only while the auction end is at least the cutoff away,
// and only when no other request blocks the bid.
func (w *RetractionWorkflow) RequestRetraction(ctx context.Context, bidID, requesterID, reason string) (*domain.RetractionRequest, error) {
	if bidID == "" || requesterID == "" {
		return nil, domain.NewValidation("missing_identifier", "bid id and requester id are required")
	}

	located, err := w.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var request *domain.RetractionRequest
	err = w.store.WithListing(ctx, located.ListingID, func(tx domain.ListingTx) error {
		bid, err := tx.Bid(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.BidderID != requesterID {
			return domain.NewUnauthorized("not_bid_owner", "only the original bidder may retract a bid")
		}
		if bid.IsRetracted {
			return domain.NewPrecondition("already_retracted", "bid has already been retracted")
		}

		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if remaining := auction.EndTime.Sub(w.clock.Now()); remaining < w.cutoff {
			return domain.NewPrecondition("retraction_window_closed",
				fmt.Sprintf("retractions close %s before auction end", w.cutoff))
		}

		blocking, err := tx.BlockingRetractionForBid(ctx, bidID)
		if err != nil {
			return err
		}
		if blocking != nil {
			return domain.NewPrecondition("retraction_already_open",
				"bid already has an open or approved retraction request")
		}

		request = &domain.RetractionRequest{
			ID:          utils.GenerateID("retraction"),
			BidID:       bidID,
			ListingID:   bid.ListingID,
			RequesterID: requesterID,
			Reason:      reason,
			Status:      domain.RetractionPending,
			CreatedAt:   w.clock.Now(),
		}
		return tx.InsertRetraction(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("Retraction requested", "request_id", request.ID, "bid_id", bidID)
	return request, nil
}

// Review settles a pending request. Approval marks the bid retracted and
// recomputes the listing's current price and winner from the remaining
// ledger; denial only closes the request.
func (w *RetractionWorkflow) Review(ctx context.Context, requestID, reviewerID string, decision domain.RetractionStatus) (*domain.RetractionRequest, error) {
	if decision != domain.RetractionApproved && decision != domain.RetractionDenied {
		return nil, domain.NewValidation("invalid_decision", "decision must be approved or denied")
	}
	if reviewerID == "" {
		return nil, domain.NewValidation("missing_identifier", "reviewer id is required")
	}

	located, err := w.store.GetRetraction(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var request *domain.RetractionRequest
	err = w.store.WithListing(ctx, located.ListingID, func(tx domain.ListingTx) error {
		req, err := tx.Retraction(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.RetractionPending {
			return domain.NewPrecondition("retraction_closed", "request has already been reviewed")
		}

		auction, err := tx.Auction(ctx)
		if err != nil {
			return err
		}
		if reviewerID != auction.SellerID && !w.admins[reviewerID] {
			return domain.NewUnauthorized("not_reviewer",
				"only the listing seller or an administrator may review retractions")
		}

		now := w.clock.Now()
		req.Status = decision
		req.ReviewedBy = reviewerID
		req.ReviewedAt = &now
		if err := tx.UpdateRetraction(ctx, req); err != nil {
			return err
		}
		request = req

		if decision == domain.RetractionDenied {
			return nil
		}

		if err := tx.MarkBidRetracted(ctx, req.BidID); err != nil {
			return err
		}
		return w.recomputeAfterRetraction(ctx, tx, auction, now)
	})
	if err != nil {
		return nil, err
	}

	if request.Status == domain.RetractionApproved {
		w.publishRetracted(request)
	}
	w.log.Info("Retraction reviewed", "request_id", requestID, "decision", string(decision))
	return request, nil
}

// recomputeAfterRetraction restores the invariant after a ledger entry drops
// out: current price is the highest remaining amount (starting price when
// none remain) and at most one remaining entry is winning.
func (w *RetractionWorkflow) recomputeAfterRetraction(ctx context.Context, tx domain.ListingTx, auction *domain.Auction, now time.Time) error {
	remaining, err := tx.ActiveBids(ctx)
	if err != nil {
		return err
	}

	var top *domain.Bid
	for _, b := range remaining {
		if top == nil || b.Amount.GreaterThan(top.Amount) {
			top = b
		}
	}

	for _, b := range remaining {
		shouldWin := top != nil && b.ID == top.ID
		if b.IsWinning != shouldWin {
			if err := tx.SetBidWinning(ctx, b.ID, shouldWin); err != nil {
				return err
			}
		}
	}

	if top != nil {
		auction.CurrentPrice = top.Amount
	} else {
		auction.CurrentPrice = auction.StartingPrice
	}
	auction.BidCount = len(remaining)
	auction.UpdatedAt = now
	return tx.UpdateAuction(ctx, auction)
}

func (w *RetractionWorkflow) publishRetracted(req *domain.RetractionRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.events.PublishBidEvent(ctx, &domain.BidEvent{
			Type:      domain.BidRetractedEv,
			ListingID: req.ListingID,
			BidderID:  req.RequesterID,
			Timestamp: w.clock.Now(),
		}); err != nil {
			w.log.Error("Failed to publish retraction event", "request_id", req.ID, "error", err)
		}
	}()
}
