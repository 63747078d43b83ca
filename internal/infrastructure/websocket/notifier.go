package websocket

import (
	"context"

	"github.com/shopspring/decimal"
)

// Notifier delivers outbid / won messages over live sockets. It implements
// domain.NotificationPort.
type Notifier struct {
	connManager *ConnectionManager
}

func NewNotifier(connManager *ConnectionManager) *Notifier {
	return &Notifier{connManager: connManager}
}

type outbidMessage struct {
	Type      string          `json:"type"`
	ListingID string          `json:"listing_id"`
	NewPrice  decimal.Decimal `json:"new_price"`
}

type wonMessage struct {
	Type      string          `json:"type"`
	ListingID string          `json:"listing_id"`
	Price     decimal.Decimal `json:"price"`
}

func (n *Notifier) NotifyOutbid(ctx context.Context, userID, listingID string, newPrice decimal.Decimal) error {
	return n.connManager.NotifyUser(userID, outbidMessage{
		Type:      "outbid",
		ListingID: listingID,
		NewPrice:  newPrice,
	})
}

func (n *Notifier) NotifyWon(ctx context.Context, userID, listingID string, price decimal.Decimal) error {
	return n.connManager.NotifyUser(userID, wonMessage{
		Type:      "auction_won",
		ListingID: listingID,
		Price:     price,
	})
}
