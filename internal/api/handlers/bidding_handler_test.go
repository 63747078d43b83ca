package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/internal/infrastructure/memory"
	"bidding-engine/internal/services"
	"bidding-engine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type nopEvents struct{}

func (nopEvents) PublishBidEvent(ctx context.Context, event *domain.BidEvent) error { return nil }

type nopNotifier struct{}

func (nopNotifier) NotifyOutbid(ctx context.Context, userID, listingID string, newPrice decimal.Decimal) error {
	return nil
}

func (nopNotifier) NotifyWon(ctx context.Context, userID, listingID string, price decimal.Decimal) error {
	return nil
}

type nopScheduler struct{}

func (nopScheduler) ScheduleOpen(ctx context.Context, listingID string, at time.Time) error { return nil }
func (nopScheduler) ScheduleClose(ctx context.Context, listingID string, at time.Time) error {
	return nil
}
func (nopScheduler) RescheduleClose(ctx context.Context, listingID string, newEnd time.Time) error {
	return nil
}
func (nopScheduler) CancelSchedule(ctx context.Context, listingID string) error { return nil }
func (nopScheduler) Start(ctx context.Context) error                            { return nil }
func (nopScheduler) Stop() error                                                { return nil }

func newTestServer(t *testing.T) (*echo.Echo, string) {
	t.Helper()

	store := memory.NewStore(time.Second)
	table, err := services.NewIncrementTable([]domain.IncrementBracket{
		{Lower: decimal.Zero, Step: decimal.NewFromInt(5)},
	})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}

	log := logger.NewNop()
	clock := &services.SystemClock{}
	engine := services.NewBidEngine(store, table, nopNotifier{}, nopEvents{}, clock, log)
	retractions := services.NewRetractionWorkflow(store, nopEvents{}, clock, 12*time.Hour, nil, log)
	lifecycle := services.NewAuctionLifecycle(store, table, nopNotifier{}, nopEvents{}, clock, 0, log)
	lifecycle.SetScheduler(nopScheduler{})
	engine.SetExtender(lifecycle)

	auction := &domain.Auction{
		ListingID:     "listing_http",
		SellerID:      "seller-1",
		StartingPrice: decimal.NewFromInt(50),
		CurrentPrice:  decimal.NewFromInt(50),
		StartTime:     time.Now().Add(-time.Hour),
		EndTime:       time.Now().Add(24 * time.Hour),
		Status:        domain.AuctionActive,
	}
	if err := store.CreateAuction(context.Background(), auction); err != nil {
		t.Fatalf("seeding auction: %v", err)
	}

	e := echo.New()
	NewBiddingHandler(engine, retractions, lifecycle, log).Register(e.Group("/api/v1"))
	return e, auction.ListingID
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPlaceBidEndpoint(t *testing.T) {
	t.Parallel()
	e, listingID := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/listings/"+listingID+"/bids",
		`{"bidder_id":"bidder-a","amount":"50"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, "50", fmt.Sprint(body["current_price"]))
	check.Equal(t, true, body["is_winning"].(bool))
}

func TestPlaceBidEndpoint_ErrorStatuses(t *testing.T) {
	t.Parallel()
	e, listingID := newTestServer(t)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{
			name:   "below minimum is a conflict",
			path:   "/api/v1/listings/" + listingID + "/bids",
			body:   `{"bidder_id":"bidder-a","amount":"10"}`,
			status: http.StatusConflict,
			code:   "bid_too_low",
		},
		{
			name:   "seller self bid is a conflict",
			path:   "/api/v1/listings/" + listingID + "/bids",
			body:   `{"bidder_id":"seller-1","amount":"60"}`,
			status: http.StatusConflict,
			code:   "seller_self_bid",
		},
		{
			name:   "missing bidder is a bad request",
			path:   "/api/v1/listings/" + listingID + "/bids",
			body:   `{"amount":"60"}`,
			status: http.StatusBadRequest,
			code:   "missing_identifier",
		},
		{
			name:   "unknown listing is not found",
			path:   "/api/v1/listings/listing_missing/bids",
			body:   `{"bidder_id":"bidder-a","amount":"60"}`,
			status: http.StatusNotFound,
			code:   "listing_not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, tc.path, tc.body)
			check.Equal(t, tc.status, rec.Code)

			var body map[string]string
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			check.Equal(t, tc.code, body["code"])
		})
	}
}

func TestCancelEndpoint_WrongUserIsForbidden(t *testing.T) {
	t.Parallel()
	e, listingID := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/listings/"+listingID+"/cancel",
		`{"seller_id":"somebody-else"}`)
	check.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/listings/"+listingID+"/cancel",
		`{"seller_id":"seller-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, "cancelled", fmt.Sprint(body["status"]))
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	e, listingID := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/listings/"+listingID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, listingID, fmt.Sprint(body["listing_id"]))
	check.Equal(t, "50", fmt.Sprint(body["minimum_bid"]))
	check.Equal(t, "active", fmt.Sprint(body["status"]))
}
