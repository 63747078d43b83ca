package handlers

import (
	"net/http"
	"time"

	"bidding-engine/internal/domain"
	"bidding-engine/internal/services"
	"bidding-engine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// BiddingHandler exposes the engine's boundary operations over HTTP.
type BiddingHandler struct {
	engine      *services.BidEngine
	retractions *services.RetractionWorkflow
	lifecycle   *services.AuctionLifecycle
	log         logger.Logger
}

func NewBiddingHandler(
	engine *services.BidEngine,
	retractions *services.RetractionWorkflow,
	lifecycle *services.AuctionLifecycle,
	log logger.Logger,
) *BiddingHandler {
	return &BiddingHandler{
		engine:      engine,
		retractions: retractions,
		lifecycle:   lifecycle,
		log:         log,
	}
}

func (h *BiddingHandler) Register(g *echo.Group) {
	g.POST("/listings", h.CreateListing)
	g.GET("/listings/:id", h.GetListingStatus)
	g.POST("/listings/:id/bids", h.PlaceBid)
	g.POST("/listings/:id/proxy-bids", h.PlaceProxyBid)
	g.POST("/listings/:id/close", h.CloseListing)
	g.POST("/listings/:id/cancel", h.CancelListing)
	g.POST("/bids/:id/retractions", h.RequestRetraction)
	g.POST("/retractions/:id/review", h.ReviewRetraction)
}

type createListingRequest struct {
	SellerID      string           `json:"seller_id"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
}

type listingResponse struct {
	ListingID     string           `json:"listing_id"`
	SellerID      string           `json:"seller_id"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	BidCount      int              `json:"bid_count"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Status        string           `json:"status"`
}

func toListingResponse(a *domain.Auction) listingResponse {
	return listingResponse{
		ListingID:     a.ListingID,
		SellerID:      a.SellerID,
		StartingPrice: a.StartingPrice,
		ReservePrice:  a.ReservePrice,
		CurrentPrice:  a.CurrentPrice,
		BidCount:      a.BidCount,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        a.Status.String(),
	}
}

func (h *BiddingHandler) CreateListing(c echo.Context) error {
	var req createListingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	auction, err := h.lifecycle.CreateAuction(c.Request().Context(),
		req.SellerID, req.StartingPrice, req.ReservePrice, req.StartTime, req.EndTime)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toListingResponse(auction))
}

func (h *BiddingHandler) GetListingStatus(c echo.Context) error {
	view, err := h.lifecycle.GetAuctionStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"listing_id":    view.ListingID,
		"current_price": view.CurrentPrice,
		"minimum_bid":   view.MinimumBid,
		"bid_count":     view.BidCount,
		"end_time":      view.EndTime,
		"status":        view.Status.String(),
	})
}

type placeBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

func (h *BiddingHandler) PlaceBid(c echo.Context) error {
	var req placeBidRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.engine.PlaceBid(c.Request().Context(), c.Param("id"), req.BidderID, req.Amount)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"bid_id":        result.Bid.ID,
		"amount":        result.Bid.Amount,
		"current_price": result.CurrentPrice,
		"minimum_bid":   result.MinimumBid,
		"is_winning":    result.Bid.IsWinning,
	})
}

type placeProxyBidRequest struct {
	BidderID  string          `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

func (h *BiddingHandler) PlaceProxyBid(c echo.Context) error {
	var req placeProxyBidRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.engine.PlaceProxyBid(c.Request().Context(), c.Param("id"), req.BidderID, req.MaxAmount)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"is_winning":    result.IsWinning,
		"current_price": result.CurrentPrice,
		"max_amount":    result.MaxAmount,
	})
}

func (h *BiddingHandler) CloseListing(c echo.Context) error {
	auction, err := h.lifecycle.CloseAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toListingResponse(auction))
}

type cancelListingRequest struct {
	SellerID string `json:"seller_id"`
}

func (h *BiddingHandler) CancelListing(c echo.Context) error {
	var req cancelListingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	auction, err := h.lifecycle.CancelAuction(c.Request().Context(), c.Param("id"), req.SellerID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toListingResponse(auction))
}

type retractionRequest struct {
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason"`
}

func (h *BiddingHandler) RequestRetraction(c echo.Context) error {
	var req retractionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	request, err := h.retractions.RequestRetraction(c.Request().Context(), c.Param("id"), req.RequesterID, req.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toRetractionResponse(request))
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision"`
}

func (h *BiddingHandler) ReviewRetraction(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	request, err := h.retractions.Review(c.Request().Context(), c.Param("id"),
		req.ReviewerID, domain.RetractionStatus(req.Decision))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toRetractionResponse(request))
}

func toRetractionResponse(r *domain.RetractionRequest) map[string]interface{} {
	return map[string]interface{}{
		"request_id":   r.ID,
		"bid_id":       r.BidID,
		"listing_id":   r.ListingID,
		"requester_id": r.RequesterID,
		"reason":       r.Reason,
		"status":       string(r.Status),
		"reviewed_by":  r.ReviewedBy,
	}
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

// writeError maps domain error kinds onto HTTP statuses. Conflicts get 429
// since they are safe to retry.
func (h *BiddingHandler) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindPreconditionFailed:
		status = http.StatusConflict
	case domain.KindConcurrencyConflict:
		status = http.StatusTooManyRequests
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindUnauthorized:
		status = http.StatusForbidden
	default:
		h.log.Error("Request failed", "path", c.Path(), "error", err)
		return c.JSON(status, map[string]string{"error": "internal error"})
	}

	return c.JSON(status, map[string]string{
		"error": err.Error(),
		"code":  domain.CodeOf(err),
	})
}
