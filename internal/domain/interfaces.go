package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListingStore is the persistence boundary for auctions, bids, proxy bids
// and retraction requests.
//
// WithListing runs fn while holding exclusive access to the listing: all
// reads and writes made through the ListingTx are one atomic unit, committed
// only when fn returns nil. Two invocations for the same listing never
// overlap; different listings proceed in parallel. Lock acquisition is
// bounded; on contention the store returns a KindConcurrencyConflict error
// without invoking fn.
type ListingStore interface {
	WithListing(ctx context.Context, listingID string, fn func(ListingTx) error) error

	CreateAuction(ctx context.Context, auction *Auction) error
	// GetAuction reads a listing snapshot without taking the lock.
	GetAuction(ctx context.Context, listingID string) (*Auction, error)
	GetBid(ctx context.Context, bidID string) (*Bid, error)
	GetRetraction(ctx context.Context, requestID string) (*RetractionRequest, error)
}

// ListingTx is the view of one listing's rows while its lock is held.
type ListingTx interface {
	Auction(ctx context.Context) (*Auction, error)
	UpdateAuction(ctx context.Context, auction *Auction) error

	InsertBid(ctx context.Context, bid *Bid) error
	Bid(ctx context.Context, bidID string) (*Bid, error)
	// ActiveBids returns non-retracted entries, oldest first.
	ActiveBids(ctx context.Context) ([]*Bid, error)
	SetBidWinning(ctx context.Context, bidID string, winning bool) error
	MarkBidRetracted(ctx context.Context, bidID string) error

	ProxyBid(ctx context.Context, bidderID string) (*ProxyBid, error)
	UpsertProxyBid(ctx context.Context, proxy *ProxyBid) error
	// ActiveProxyBids returns active rows ordered by MaxAmount descending,
	// ties by earliest CreatedAt.
	ActiveProxyBids(ctx context.Context) ([]*ProxyBid, error)
	DeactivateProxyBids(ctx context.Context) error

	InsertRetraction(ctx context.Context, req *RetractionRequest) error
	Retraction(ctx context.Context, requestID string) (*RetractionRequest, error)
	UpdateRetraction(ctx context.Context, req *RetractionRequest) error
	// BlockingRetractionForBid returns the pending or approved request for
	// a bid, or nil when the bid has none.
	BlockingRetractionForBid(ctx context.Context, bidID string) (*RetractionRequest, error)
}

type SchedulerRepository interface {
	CreateJob(ctx context.Context, job *ScheduledJob) error
	GetPendingJobs(ctx context.Context, before time.Time) ([]*ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	CancelJobsForListing(ctx context.Context, listingID string) error
}

// NotificationPort delivers outbid / won events to bidders. Fire-and-forget:
// delivery failures are the implementation's problem, never the bid's.
type NotificationPort interface {
	NotifyOutbid(ctx context.Context, userID, listingID string, newPrice decimal.Decimal) error
	NotifyWon(ctx context.Context, userID, listingID string, price decimal.Decimal) error
}

type EventPublisher interface {
	PublishBidEvent(ctx context.Context, event *BidEvent) error
}

// Clock abstracts time so auction-end comparisons are testable.
type Clock interface {
	Now() time.Time
}

// IncrementSource maps a price to the minimum step to the next valid bid.
type IncrementSource interface {
	IncrementFor(amount decimal.Decimal) decimal.Decimal
	MinimumBid(current decimal.Decimal) decimal.Decimal
}

type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

type AuctionScheduler interface {
	ScheduleOpen(ctx context.Context, listingID string, at time.Time) error
	ScheduleClose(ctx context.Context, listingID string, at time.Time) error
	RescheduleClose(ctx context.Context, listingID string, newEnd time.Time) error
	CancelSchedule(ctx context.Context, listingID string) error
	Start(ctx context.Context) error
	Stop() error
}
