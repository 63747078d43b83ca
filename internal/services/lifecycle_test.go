package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/pkg/logger"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

// fakeScheduler records scheduling calls in place of the cron-backed one.
type fakeScheduler struct {
	mu        sync.Mutex
	opens     map[string]time.Time
	closes    map[string]time.Time
	cancelled map[string]bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		opens:     make(map[string]time.Time),
		closes:    make(map[string]time.Time),
		cancelled: make(map[string]bool),
	}
}

func (s *fakeScheduler) ScheduleOpen(ctx context.Context, listingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[listingID] = at
	return nil
}

func (s *fakeScheduler) ScheduleClose(ctx context.Context, listingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[listingID] = at
	return nil
}

func (s *fakeScheduler) RescheduleClose(ctx context.Context, listingID string, newEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes[listingID] = newEnd
	return nil
}

func (s *fakeScheduler) CancelSchedule(ctx context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[listingID] = true
	return nil
}

func (s *fakeScheduler) Start(ctx context.Context) error { return nil }
func (s *fakeScheduler) Stop() error                     { return nil }

func (s *fakeScheduler) closeAt(listingID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes[listingID]
}

type lifecycleFixture struct {
	*engineFixture
	lifecycle *AuctionLifecycle
	scheduler *fakeScheduler
}

func newLifecycleFixture(t *testing.T, snipeWindow time.Duration) *lifecycleFixture {
	t.Helper()
	f := newEngineFixture(t)
	scheduler := newFakeScheduler()
	lifecycle := NewAuctionLifecycle(f.store, flatTable(t), f.notifier, f.events,
		f.clock, snipeWindow, logger.NewNop())
	lifecycle.SetScheduler(scheduler)
	f.engine.SetExtender(lifecycle)
	return &lifecycleFixture{engineFixture: f, lifecycle: lifecycle, scheduler: scheduler}
}

func TestCreateAuction_SchedulesOpenAndClose(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	start := f.clock.Now().Add(time.Hour)
	end := start.Add(48 * time.Hour)
	auction, err := f.lifecycle.CreateAuction(ctx, "seller-2", dec("10"), nil, start, end)
	assert.NoError(t, err)
	assert.NotNil(t, auction)

	check.Equal(t, domain.AuctionScheduled, auction.Status)
	check.Equal(t, dec("10"), auction.CurrentPrice)
	check.Equal(t, start, f.scheduler.opens[auction.ListingID])
	check.Equal(t, end, f.scheduler.closeAt(auction.ListingID))
}

func TestCreateAuction_Validations(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()
	start := f.clock.Now()
	end := start.Add(time.Hour)

	_, err := f.lifecycle.CreateAuction(ctx, "", dec("10"), nil, start, end)
	check.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.lifecycle.CreateAuction(ctx, "seller-2", dec("0"), nil, start, end)
	check.Equal(t, "invalid_amount", domain.CodeOf(err))

	reserve := dec("5")
	_, err = f.lifecycle.CreateAuction(ctx, "seller-2", dec("10"), &reserve, start, end)
	check.Equal(t, "invalid_reserve", domain.CodeOf(err))

	_, err = f.lifecycle.CreateAuction(ctx, "seller-2", dec("10"), nil, end, start)
	check.Equal(t, "invalid_window", domain.CodeOf(err))
}

func TestOpenAuction_ScheduledBecomesActive(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Minute)
	end := f.clock.Now().Add(time.Hour)
	auction, err := f.lifecycle.CreateAuction(ctx, "seller-2", dec("10"), nil, start, end)
	assert.NoError(t, err)

	assert.NoError(t, f.lifecycle.OpenAuction(ctx, auction.ListingID))
	got, err := f.store.GetAuction(ctx, auction.ListingID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionActive, got.Status)

	// Opening again is a no-op.
	check.NoError(t, f.lifecycle.OpenAuction(ctx, auction.ListingID))
}

func TestCloseAuction_SoldNotifiesWinner(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	_, err := f.engine.PlaceBid(ctx, f.listingID, "bidder-a", dec("60"))
	assert.NoError(t, err)
	_, err = f.engine.PlaceProxyBid(ctx, f.listingID, "bidder-b", dec("200"))
	assert.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	closed, err := f.lifecycle.CloseAuction(ctx, f.listingID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionSold, closed.Status)

	waitFor(t, func() bool { return f.notifier.wonCount("bidder-b") == 1 })
	check.Equal(t, 0, f.notifier.wonCount("bidder-a"))

	// The registry is done once the listing settles.
	err = f.store.WithListing(ctx, f.listingID, func(tx domain.ListingTx) error {
		rows, err := tx.ActiveProxyBids(ctx)
		assert.NoError(t, err)
		check.Equal(t, 0, len(rows))
		return nil
	})
	assert.NoError(t, err)

	// Closing a settled listing changes nothing.
	again, err := f.lifecycle.CloseAuction(ctx, f.listingID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionSold, again.Status)
	check.Equal(t, 1, f.notifier.wonCount("bidder-b"))
}

func TestCloseAuction_NoBidsEndsUnsold(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)

	f.clock.Advance(25 * time.Hour)
	closed, err := f.lifecycle.CloseAuction(context.Background(), f.listingID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionEnded, closed.Status)
}

func TestCloseAuction_ReserveNotMetEndsUnsold(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	reserve := dec("500")
	start := f.clock.Now().Add(-time.Minute)
	end := f.clock.Now().Add(time.Hour)
	auction, err := f.lifecycle.CreateAuction(ctx, "seller-2", dec("10"), &reserve, start, end)
	assert.NoError(t, err)
	assert.NoError(t, f.lifecycle.OpenAuction(ctx, auction.ListingID))

	_, err = f.engine.PlaceBid(ctx, auction.ListingID, "bidder-a", dec("100"))
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	closed, err := f.lifecycle.CloseAuction(ctx, auction.ListingID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionEnded, closed.Status)
	check.Equal(t, 0, f.notifier.wonCount("bidder-a"))
}

func TestCancelAuction_SellerOnly(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	_, err := f.lifecycle.CancelAuction(ctx, f.listingID, "bidder-a")
	assert.Error(t, err)
	check.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	cancelled, err := f.lifecycle.CancelAuction(ctx, f.listingID, f.sellerID)
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionCancelled, cancelled.Status)
	check.True(t, f.scheduler.cancelled[f.listingID])

	// Terminal listings cannot be cancelled again.
	_, err = f.lifecycle.CancelAuction(ctx, f.listingID, f.sellerID)
	assert.Error(t, err)
	check.Equal(t, "auction_closed", domain.CodeOf(err))
}

func TestGetAuctionStatus_MinimumBid(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	view, err := f.lifecycle.GetAuctionStatus(ctx, f.listingID)
	assert.NoError(t, err)
	// No bids yet: the floor is the starting price itself, not price+step.
	check.Equal(t, dec("50"), view.MinimumBid)
	check.Equal(t, 0, view.BidCount)

	_, err = f.engine.PlaceBid(ctx, f.listingID, "bidder-a", dec("50"))
	assert.NoError(t, err)

	view, err = f.lifecycle.GetAuctionStatus(ctx, f.listingID)
	assert.NoError(t, err)
	check.Equal(t, dec("55"), view.MinimumBid)
	check.Equal(t, 1, view.BidCount)
}

func TestCheckAndExtend_SnipeWindow(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 30*time.Minute)
	ctx := context.Background()

	before := f.auction(t)

	// A bid well before the end does not move the close.
	_, err := f.engine.PlaceBid(ctx, f.listingID, "bidder-a", dec("50"))
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	check.Equal(t, before.EndTime, f.auction(t).EndTime)

	// Inside the final window the end time is pushed out.
	f.clock.Advance(24*time.Hour - 10*time.Minute)
	assert.NoError(t, f.lifecycle.CheckAndExtend(ctx, f.listingID))

	extended := f.auction(t)
	check.Equal(t, f.clock.Now().Add(30*time.Minute), extended.EndTime)
	check.Equal(t, extended.EndTime, f.scheduler.closeAt(f.listingID))
}

func TestCheckAndExtend_DisabledWindow(t *testing.T) {
	t.Parallel()
	f := newLifecycleFixture(t, 0)
	ctx := context.Background()

	before := f.auction(t)
	f.clock.Advance(24*time.Hour - time.Minute)
	assert.NoError(t, f.lifecycle.CheckAndExtend(ctx, f.listingID))
	check.Equal(t, before.EndTime, f.auction(t).EndTime)
	check.Equal(t, time.Time{}, f.scheduler.closeAt(f.listingID))
}
