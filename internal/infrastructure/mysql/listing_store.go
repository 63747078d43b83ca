package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bidding-engine/internal/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// MySQL server error numbers for lock wait timeout and deadlock.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Store is the production domain.ListingStore. WithListing opens a
// transaction and takes a row lock on the auctions row with
// SELECT ... FOR UPDATE, which serializes all work per listing while
// leaving other listings untouched.
type Store struct {
	db       *sql.DB
	lockWait time.Duration
}

func NewStore(db *sql.DB, lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &Store{db: db, lockWait: lockWait}
}

func (s *Store) WithListing(ctx context.Context, listingID string, fn func(domain.ListingTx) error) error {
	// Bound the whole locked unit so a contended row surfaces as a
	// retryable conflict instead of an open-ended stall.
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateErr(err)
	}
	defer dbtx.Rollback()

	var locked string
	err = dbtx.QueryRowContext(ctx,
		`SELECT listing_id FROM auctions WHERE listing_id = ? FOR UPDATE`, listingID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFound("listing_not_found", "no auction for listing")
		}
		return translateErr(err)
	}

	if err := fn(&listingTx{tx: dbtx, listingID: listingID}); err != nil {
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

func (s *Store) CreateAuction(ctx context.Context, a *domain.Auction) error {
	query := `
        INSERT INTO auctions (listing_id, seller_id, starting_price, reserve_price,
            current_price, bid_count, start_time, end_time, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		a.ListingID, a.SellerID, a.StartingPrice.String(), nullDecimal(a.ReservePrice),
		a.CurrentPrice.String(), a.BidCount, a.StartTime, a.EndTime,
		int(a.Status), a.CreatedAt, a.UpdatedAt)
	return translateErr(err)
}

func (s *Store) GetAuction(ctx context.Context, listingID string) (*domain.Auction, error) {
	return scanAuction(s.db.QueryRowContext(ctx, auctionSelect+` WHERE listing_id = ?`, listingID))
}

func (s *Store) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	return scanBid(s.db.QueryRowContext(ctx, bidSelect+` WHERE id = ?`, bidID))
}

func (s *Store) GetRetraction(ctx context.Context, requestID string) (*domain.RetractionRequest, error) {
	return scanRetraction(s.db.QueryRowContext(ctx, retractionSelect+` WHERE id = ?`, requestID))
}

// listingTx runs inside the row lock taken by WithListing.
type listingTx struct {
	tx        *sql.Tx
	listingID string
}

const auctionSelect = `
        SELECT listing_id, seller_id, starting_price, reserve_price, current_price,
               bid_count, start_time, end_time, status, created_at, updated_at
        FROM auctions`

func (t *listingTx) Auction(ctx context.Context) (*domain.Auction, error) {
	return scanAuction(t.tx.QueryRowContext(ctx, auctionSelect+` WHERE listing_id = ?`, t.listingID))
}

func (t *listingTx) UpdateAuction(ctx context.Context, a *domain.Auction) error {
	query := `
        UPDATE auctions
        SET current_price = ?, bid_count = ?, end_time = ?, status = ?, updated_at = ?
        WHERE listing_id = ?
    `
	_, err := t.tx.ExecContext(ctx, query,
		a.CurrentPrice.String(), a.BidCount, a.EndTime, int(a.Status), a.UpdatedAt, a.ListingID)
	return translateErr(err)
}

const bidSelect = `
        SELECT id, listing_id, bidder_id, amount, is_proxy_derived, is_winning, is_retracted, created_at
        FROM bids`

func (t *listingTx) InsertBid(ctx context.Context, b *domain.Bid) error {
	query := `
        INSERT INTO bids (id, listing_id, bidder_id, amount, is_proxy_derived, is_winning, is_retracted, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := t.tx.ExecContext(ctx, query,
		b.ID, b.ListingID, b.BidderID, b.Amount.String(),
		b.IsProxyDerived, b.IsWinning, b.IsRetracted, b.CreatedAt)
	return translateErr(err)
}

func (t *listingTx) Bid(ctx context.Context, bidID string) (*domain.Bid, error) {
	return scanBid(t.tx.QueryRowContext(ctx, bidSelect+` WHERE id = ?`, bidID))
}

func (t *listingTx) ActiveBids(ctx context.Context) ([]*domain.Bid, error) {
	rows, err := t.tx.QueryContext(ctx,
		bidSelect+` WHERE listing_id = ? AND is_retracted = FALSE ORDER BY created_at ASC, id ASC`,
		t.listingID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, translateErr(rows.Err())
}

func (t *listingTx) SetBidWinning(ctx context.Context, bidID string, winning bool) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE bids SET is_winning = ? WHERE id = ?`, winning, bidID)
	return translateErr(err)
}

func (t *listingTx) MarkBidRetracted(ctx context.Context, bidID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE bids SET is_retracted = TRUE, is_winning = FALSE WHERE id = ?`, bidID)
	return translateErr(err)
}

const proxySelect = `
        SELECT listing_id, bidder_id, max_amount, current_amount, is_active, is_winning, created_at, updated_at
        FROM proxy_bids`

func (t *listingTx) ProxyBid(ctx context.Context, bidderID string) (*domain.ProxyBid, error) {
	p, err := scanProxy(t.tx.QueryRowContext(ctx,
		proxySelect+` WHERE listing_id = ? AND bidder_id = ?`, t.listingID, bidderID))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (t *listingTx) UpsertProxyBid(ctx context.Context, p *domain.ProxyBid) error {
	query := `
        INSERT INTO proxy_bids (listing_id, bidder_id, max_amount, current_amount,
            is_active, is_winning, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            max_amount = VALUES(max_amount),
            current_amount = VALUES(current_amount),
            is_active = VALUES(is_active),
            is_winning = VALUES(is_winning),
            updated_at = VALUES(updated_at)
    `
	_, err := t.tx.ExecContext(ctx, query,
		p.ListingID, p.BidderID, p.MaxAmount.String(), p.CurrentAmount.String(),
		p.IsActive, p.IsWinning, p.CreatedAt, p.UpdatedAt)
	return translateErr(err)
}

func (t *listingTx) ActiveProxyBids(ctx context.Context) ([]*domain.ProxyBid, error) {
	rows, err := t.tx.QueryContext(ctx,
		proxySelect+` WHERE listing_id = ? AND is_active = TRUE
        ORDER BY max_amount DESC, created_at ASC`, t.listingID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var proxies []*domain.ProxyBid
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, translateErr(rows.Err())
}

func (t *listingTx) DeactivateProxyBids(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE proxy_bids SET is_active = FALSE WHERE listing_id = ?`, t.listingID)
	return translateErr(err)
}

const retractionSelect = `
        SELECT id, bid_id, listing_id, requester_id, reason, status, reviewed_by, created_at, reviewed_at
        FROM retraction_requests`

func (t *listingTx) InsertRetraction(ctx context.Context, r *domain.RetractionRequest) error {
	query := `
        INSERT INTO retraction_requests (id, bid_id, listing_id, requester_id, reason, status, reviewed_by, created_at, reviewed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := t.tx.ExecContext(ctx, query,
		r.ID, r.BidID, r.ListingID, r.RequesterID, r.Reason,
		string(r.Status), r.ReviewedBy, r.CreatedAt, r.ReviewedAt)
	return translateErr(err)
}

func (t *listingTx) Retraction(ctx context.Context, requestID string) (*domain.RetractionRequest, error) {
	return scanRetraction(t.tx.QueryRowContext(ctx, retractionSelect+` WHERE id = ?`, requestID))
}

func (t *listingTx) UpdateRetraction(ctx context.Context, r *domain.RetractionRequest) error {
	query := `
        UPDATE retraction_requests
        SET status = ?, reviewed_by = ?, reviewed_at = ?
        WHERE id = ?
    `
	_, err := t.tx.ExecContext(ctx, query, string(r.Status), r.ReviewedBy, r.ReviewedAt, r.ID)
	return translateErr(err)
}

func (t *listingTx) BlockingRetractionForBid(ctx context.Context, bidID string) (*domain.RetractionRequest, error) {
	r, err := scanRetraction(t.tx.QueryRowContext(ctx,
		retractionSelect+` WHERE bid_id = ? AND status IN ('pending', 'approved') LIMIT 1`, bidID))
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		a                 domain.Auction
		starting, current string
		reserve           sql.NullString
		status            int
	)
	err := row.Scan(&a.ListingID, &a.SellerID, &starting, &reserve, &current,
		&a.BidCount, &a.StartTime, &a.EndTime, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound("listing_not_found", "no auction for listing")
		}
		return nil, translateErr(err)
	}

	if a.StartingPrice, err = decimal.NewFromString(starting); err != nil {
		return nil, err
	}
	if a.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return nil, err
	}
	if reserve.Valid {
		r, err := decimal.NewFromString(reserve.String)
		if err != nil {
			return nil, err
		}
		a.ReservePrice = &r
	}
	a.Status = domain.AuctionStatus(status)
	return &a, nil
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var (
		b      domain.Bid
		amount string
	)
	err := row.Scan(&b.ID, &b.ListingID, &b.BidderID, &amount,
		&b.IsProxyDerived, &b.IsWinning, &b.IsRetracted, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound("bid_not_found", "no such bid")
		}
		return nil, translateErr(err)
	}
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanProxy(row rowScanner) (*domain.ProxyBid, error) {
	var (
		p            domain.ProxyBid
		max, current string
	)
	err := row.Scan(&p.ListingID, &p.BidderID, &max, &current,
		&p.IsActive, &p.IsWinning, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound("proxy_not_found", "no proxy bid")
		}
		return nil, translateErr(err)
	}
	if p.MaxAmount, err = decimal.NewFromString(max); err != nil {
		return nil, err
	}
	if p.CurrentAmount, err = decimal.NewFromString(current); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRetraction(row rowScanner) (*domain.RetractionRequest, error) {
	var (
		r          domain.RetractionRequest
		status     string
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.BidID, &r.ListingID, &r.RequesterID, &r.Reason,
		&status, &reviewedBy, &r.CreatedAt, &reviewedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFound("retraction_not_found", "no such retraction request")
		}
		return nil, translateErr(err)
	}
	r.Status = domain.RetractionStatus(status)
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		at := reviewedAt.Time
		r.ReviewedAt = &at
	}
	return &r, nil
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// translateErr maps driver-level contention onto the retryable conflict
// kind; everything else passes through untouched.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock {
			return domain.NewConflict("lock_timeout", "listing is busy, retry the request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewConflict("lock_timeout", "listing is busy, retry the request", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewConflict("request_abandoned", "caller went away before commit", err)
	}
	return err
}
