package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction is the mutable bidding record of one listing.
type Auction struct {
	ListingID     string
	SellerID      string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	CurrentPrice  decimal.Decimal
	BidCount      int
	StartTime     time.Time
	EndTime       time.Time
	Status        AuctionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionSold
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionSold:
		return "sold"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionEnded || s == AuctionSold || s == AuctionCancelled
}

// Bid is one append-only ledger entry. Immutable once inserted except for
// the IsWinning and IsRetracted flags.
type Bid struct {
	ID             string
	ListingID      string
	BidderID       string
	Amount         decimal.Decimal
	IsProxyDerived bool
	IsWinning      bool
	IsRetracted    bool
	CreatedAt      time.Time
}

// ProxyBid is a bidder's standing maximum on one listing.
// (ListingID, BidderID) is unique.
type ProxyBid struct {
	ListingID     string
	BidderID      string
	MaxAmount     decimal.Decimal
	CurrentAmount decimal.Decimal
	IsActive      bool
	IsWinning     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RetractionStatus string

const (
	RetractionPending  RetractionStatus = "pending"
	RetractionApproved RetractionStatus = "approved"
	RetractionDenied   RetractionStatus = "denied"
)

type RetractionRequest struct {
	ID          string
	BidID       string
	ListingID   string
	RequesterID string
	Reason      string
	Status      RetractionStatus
	ReviewedBy  string
	CreatedAt   time.Time
	ReviewedAt  *time.Time
}

// BidResult is returned to the caller of PlaceBid.
type BidResult struct {
	Bid          *Bid
	CurrentPrice decimal.Decimal
	MinimumBid   decimal.Decimal
}

// ProxyResult is returned to the caller of PlaceProxyBid.
type ProxyResult struct {
	IsWinning    bool
	CurrentPrice decimal.Decimal
	MaxAmount    decimal.Decimal
}

// AuctionStatusView is the public read-only snapshot of one listing.
type AuctionStatusView struct {
	ListingID    string
	CurrentPrice decimal.Decimal
	MinimumBid   decimal.Decimal
	BidCount     int
	EndTime      time.Time
	Status       AuctionStatus
}

type BidEvent struct {
	Type      BidEventType    `json:"type"`
	ListingID string          `json:"listing_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type BidEventType string

const (
	BidAccepted    BidEventType = "bid_accepted"
	BidRetractedEv BidEventType = "bid_retracted"
	AuctionClosed  BidEventType = "auction_closed"
)

// IncrementBracket maps a price range to the minimum step to the next
// valid bid. A bracket with no declared upper bound applies to every price
// at or above its lower bound.
type IncrementBracket struct {
	Lower decimal.Decimal `json:"lower"`
	Step  decimal.Decimal `json:"step"`
}

type ScheduledJob struct {
	ID        string
	ListingID string
	JobType   JobType
	RunAt     time.Time
	Status    JobStatus
	CreatedAt time.Time
}

type JobType string

const (
	JobOpenAuction  JobType = "open_auction"
	JobCloseAuction JobType = "close_auction"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobExecuted  JobStatus = "executed"
	JobCancelled JobStatus = "cancelled"
)
