package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/internal/infrastructure/memory"
	"bidding-engine/pkg/logger"
	"bidding-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flatTable is a single-bracket schedule with a $5 step everywhere, which
// keeps expected prices easy to read in tests.
func flatTable(t *testing.T) *IncrementTable {
	t.Helper()
	table, err := NewIncrementTable([]domain.IncrementBracket{
		{Lower: decimal.Zero, Step: dec("5")},
	})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	return table
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notice struct {
	UserID    string
	ListingID string
	Amount    decimal.Decimal
}

// captureNotifier records deliveries so tests can assert fan-out.
type captureNotifier struct {
	mu     sync.Mutex
	outbid []notice
	won    []notice
}

func (n *captureNotifier) NotifyOutbid(ctx context.Context, userID, listingID string, newPrice decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outbid = append(n.outbid, notice{UserID: userID, ListingID: listingID, Amount: newPrice})
	return nil
}

func (n *captureNotifier) NotifyWon(ctx context.Context, userID, listingID string, price decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.won = append(n.won, notice{UserID: userID, ListingID: listingID, Amount: price})
	return nil
}

func (n *captureNotifier) outbidCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, o := range n.outbid {
		if o.UserID == userID {
			count++
		}
	}
	return count
}

func (n *captureNotifier) wonCount(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, w := range n.won {
		if w.UserID == userID {
			count++
		}
	}
	return count
}

type captureEvents struct {
	mu     sync.Mutex
	events []*domain.BidEvent
}

func (e *captureEvents) PublishBidEvent(ctx context.Context, event *domain.BidEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *captureEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// waitFor polls cond until it holds or the deadline passes. Post-commit side
// effects run asynchronously, so assertions on them need to wait.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type engineFixture struct {
	engine    *BidEngine
	store     *memory.Store
	clock     *fakeClock
	notifier  *captureNotifier
	events    *captureEvents
	listingID string
	sellerID  string
}

// newEngineFixture builds an engine over the in-memory store with one
// active listing: starting price $50, ending 24h out.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewStore(time.Second)
	notifier := &captureNotifier{}
	events := &captureEvents{}

	auction := &domain.Auction{
		ListingID:     utils.GenerateID("listing"),
		SellerID:      "seller-1",
		StartingPrice: dec("50"),
		CurrentPrice:  dec("50"),
		StartTime:     clock.Now().Add(-time.Hour),
		EndTime:       clock.Now().Add(24 * time.Hour),
		Status:        domain.AuctionActive,
		CreatedAt:     clock.Now(),
		UpdatedAt:     clock.Now(),
	}
	if err := store.CreateAuction(context.Background(), auction); err != nil {
		t.Fatalf("creating auction: %v", err)
	}

	engine := NewBidEngine(store, flatTable(t), notifier, events, clock, logger.NewNop())
	return &engineFixture{
		engine:    engine,
		store:     store,
		clock:     clock,
		notifier:  notifier,
		events:    events,
		listingID: auction.ListingID,
		sellerID:  auction.SellerID,
	}
}

// activeLedger reads the non-retracted ledger entries for the fixture listing.
func (f *engineFixture) activeLedger(t *testing.T) []*domain.Bid {
	t.Helper()
	var bids []*domain.Bid
	err := f.store.WithListing(context.Background(), f.listingID, func(tx domain.ListingTx) error {
		var err error
		bids, err = tx.ActiveBids(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	return bids
}

func (f *engineFixture) auction(t *testing.T) *domain.Auction {
	t.Helper()
	a, err := f.store.GetAuction(context.Background(), f.listingID)
	if err != nil {
		t.Fatalf("reading auction: %v", err)
	}
	return a
}
