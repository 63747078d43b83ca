package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bidding-engine/internal/domain"
)

// Store is an in-process domain.ListingStore. Each listing carries its own
// lock, acquired with a bounded wait, so listings serialize independently.
// A transaction stages every mutation on deep copies and publishes them only
// when the callback succeeds, which keeps failed units invisible.
type Store struct {
	mu       sync.RWMutex
	listings map[string]*listingState
	bidIdx   map[string]string // bid id -> listing id
	reqIdx   map[string]string // retraction request id -> listing id
	lockWait time.Duration
}

type listingState struct {
	sem         chan struct{}
	auction     *domain.Auction
	bids        []*domain.Bid
	proxies     map[string]*domain.ProxyBid
	retractions map[string]*domain.RetractionRequest
}

func NewStore(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &Store{
		listings: make(map[string]*listingState),
		bidIdx:   make(map[string]string),
		reqIdx:   make(map[string]string),
		lockWait: lockWait,
	}
}

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[auction.ListingID]; exists {
		return domain.NewValidation("listing_exists", "listing already has an auction")
	}

	st := &listingState{
		sem:         make(chan struct{}, 1),
		auction:     cloneAuction(auction),
		proxies:     make(map[string]*domain.ProxyBid),
		retractions: make(map[string]*domain.RetractionRequest),
	}
	s.listings[auction.ListingID] = st
	return nil
}

func (s *Store) WithListing(ctx context.Context, listingID string, fn func(domain.ListingTx) error) error {
	s.mu.RLock()
	st, ok := s.listings[listingID]
	s.mu.RUnlock()
	if !ok {
		return domain.NewNotFound("listing_not_found", "no auction for listing")
	}

	select {
	case st.sem <- struct{}{}:
	case <-time.After(s.lockWait):
		return domain.NewConflict("lock_timeout", "listing is busy, retry the request", nil)
	case <-ctx.Done():
		return domain.NewConflict("request_abandoned", "caller went away before the listing lock was acquired", ctx.Err())
	}
	defer func() { <-st.sem }()

	tx := newTx(s, st)
	if err := fn(tx); err != nil {
		return err
	}
	// An abandoned request must leave no trace if it never committed.
	if err := ctx.Err(); err != nil {
		return domain.NewConflict("request_abandoned", "caller went away before commit", err)
	}

	tx.commit()
	return nil
}

func (s *Store) GetAuction(ctx context.Context, listingID string) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.listings[listingID]
	if !ok {
		return nil, domain.NewNotFound("listing_not_found", "no auction for listing")
	}
	return cloneAuction(st.auction), nil
}

func (s *Store) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listingID, ok := s.bidIdx[bidID]
	if !ok {
		return nil, domain.NewNotFound("bid_not_found", "no such bid")
	}
	for _, b := range s.listings[listingID].bids {
		if b.ID == bidID {
			return cloneBid(b), nil
		}
	}
	return nil, domain.NewNotFound("bid_not_found", "no such bid")
}

func (s *Store) GetRetraction(ctx context.Context, requestID string) (*domain.RetractionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listingID, ok := s.reqIdx[requestID]
	if !ok {
		return nil, domain.NewNotFound("retraction_not_found", "no such retraction request")
	}
	if req, ok := s.listings[listingID].retractions[requestID]; ok {
		return cloneRetraction(req), nil
	}
	return nil, domain.NewNotFound("retraction_not_found", "no such retraction request")
}

// tx stages changes against copies of the listing's rows.
type tx struct {
	store *Store
	state *listingState

	auction     *domain.Auction
	bids        []*domain.Bid
	proxies     map[string]*domain.ProxyBid
	retractions map[string]*domain.RetractionRequest
}

func newTx(store *Store, st *listingState) *tx {
	bids := make([]*domain.Bid, len(st.bids))
	for i, b := range st.bids {
		bids[i] = cloneBid(b)
	}
	proxies := make(map[string]*domain.ProxyBid, len(st.proxies))
	for k, p := range st.proxies {
		proxies[k] = cloneProxy(p)
	}
	retractions := make(map[string]*domain.RetractionRequest, len(st.retractions))
	for k, r := range st.retractions {
		retractions[k] = cloneRetraction(r)
	}
	return &tx{
		store:       store,
		state:       st,
		auction:     cloneAuction(st.auction),
		bids:        bids,
		proxies:     proxies,
		retractions: retractions,
	}
}

func (t *tx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.state.auction = t.auction
	t.state.bids = t.bids
	t.state.proxies = t.proxies
	t.state.retractions = t.retractions
	for _, b := range t.bids {
		t.store.bidIdx[b.ID] = b.ListingID
	}
	for _, r := range t.retractions {
		t.store.reqIdx[r.ID] = r.ListingID
	}
}

func (t *tx) Auction(ctx context.Context) (*domain.Auction, error) {
	return cloneAuction(t.auction), nil
}

func (t *tx) UpdateAuction(ctx context.Context, auction *domain.Auction) error {
	t.auction = cloneAuction(auction)
	return nil
}

func (t *tx) InsertBid(ctx context.Context, bid *domain.Bid) error {
	t.bids = append(t.bids, cloneBid(bid))
	return nil
}

func (t *tx) Bid(ctx context.Context, bidID string) (*domain.Bid, error) {
	for _, b := range t.bids {
		if b.ID == bidID {
			return cloneBid(b), nil
		}
	}
	return nil, domain.NewNotFound("bid_not_found", "no such bid")
}

func (t *tx) ActiveBids(ctx context.Context) ([]*domain.Bid, error) {
	var out []*domain.Bid
	for _, b := range t.bids {
		if !b.IsRetracted {
			out = append(out, cloneBid(b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) SetBidWinning(ctx context.Context, bidID string, winning bool) error {
	for _, b := range t.bids {
		if b.ID == bidID {
			b.IsWinning = winning
			return nil
		}
	}
	return domain.NewNotFound("bid_not_found", "no such bid")
}

func (t *tx) MarkBidRetracted(ctx context.Context, bidID string) error {
	for _, b := range t.bids {
		if b.ID == bidID {
			b.IsRetracted = true
			b.IsWinning = false
			return nil
		}
	}
	return domain.NewNotFound("bid_not_found", "no such bid")
}

func (t *tx) ProxyBid(ctx context.Context, bidderID string) (*domain.ProxyBid, error) {
	if p, ok := t.proxies[bidderID]; ok {
		return cloneProxy(p), nil
	}
	return nil, nil
}

func (t *tx) UpsertProxyBid(ctx context.Context, proxy *domain.ProxyBid) error {
	t.proxies[proxy.BidderID] = cloneProxy(proxy)
	return nil
}

func (t *tx) ActiveProxyBids(ctx context.Context) ([]*domain.ProxyBid, error) {
	var out []*domain.ProxyBid
	for _, p := range t.proxies {
		if p.IsActive {
			out = append(out, cloneProxy(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MaxAmount.Equal(out[j].MaxAmount) {
			return out[i].MaxAmount.GreaterThan(out[j].MaxAmount)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) DeactivateProxyBids(ctx context.Context) error {
	for _, p := range t.proxies {
		p.IsActive = false
	}
	return nil
}

func (t *tx) InsertRetraction(ctx context.Context, req *domain.RetractionRequest) error {
	t.retractions[req.ID] = cloneRetraction(req)
	return nil
}

func (t *tx) Retraction(ctx context.Context, requestID string) (*domain.RetractionRequest, error) {
	if r, ok := t.retractions[requestID]; ok {
		return cloneRetraction(r), nil
	}
	return nil, domain.NewNotFound("retraction_not_found", "no such retraction request")
}

func (t *tx) UpdateRetraction(ctx context.Context, req *domain.RetractionRequest) error {
	if _, ok := t.retractions[req.ID]; !ok {
		return domain.NewNotFound("retraction_not_found", "no such retraction request")
	}
	t.retractions[req.ID] = cloneRetraction(req)
	return nil
}

func (t *tx) BlockingRetractionForBid(ctx context.Context, bidID string) (*domain.RetractionRequest, error) {
	for _, r := range t.retractions {
		if r.BidID == bidID && (r.Status == domain.RetractionPending || r.Status == domain.RetractionApproved) {
			return cloneRetraction(r), nil
		}
	}
	return nil, nil
}

func cloneAuction(a *domain.Auction) *domain.Auction {
	c := *a
	if a.ReservePrice != nil {
		r := *a.ReservePrice
		c.ReservePrice = &r
	}
	return &c
}

func cloneBid(b *domain.Bid) *domain.Bid {
	c := *b
	return &c
}

func cloneProxy(p *domain.ProxyBid) *domain.ProxyBid {
	c := *p
	return &c
}

func cloneRetraction(r *domain.RetractionRequest) *domain.RetractionRequest {
	c := *r
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}
