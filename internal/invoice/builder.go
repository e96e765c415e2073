// Package invoice builds and submits invoice-creation requests to the hosted
// invoice provider.
package invoice

import (
	"net/http"
	"time"

	"github.com/noah-isme/hostedpay/internal/common"
	"github.com/noah-isme/hostedpay/internal/money"
	"github.com/noah-isme/hostedpay/internal/order"
)

// Invoices fall due one day after creation; the provider expects the timestamp
// in UTC with a trailing Z.
const (
	dueDateOffset = 24 * time.Hour
	dueDateFormat = "2006-01-02T15:04:05Z"
)

// Metadata carries the integration markers echoed back by the provider's
// webhook. OrderID is the sole linkage used to resolve the local order.
type Metadata struct {
	CMS     string `json:"cms"`
	Module  string `json:"module"`
	Plugin  string `json:"plugin"`
	Version string `json:"version"`
	OrderID string `json:"order_id"`
}

// Request is the invoice-creation payload. Amount is in integer minor units.
type Request struct {
	ShopID      int64      `json:"shopID"`
	Amount      int64      `json:"amount"`
	Metadata    Metadata   `json:"metadata"`
	DueDate     string     `json:"dueDate"`
	Currency    string     `json:"currency"`
	Product     string     `json:"product"`
	Description string     `json:"description"`
	Cart        []CartLine `json:"cart,omitempty"`
}

// Builder assembles invoice-creation requests for orders.
type Builder struct {
	ShopID  int64
	CMS     string
	Module  string
	Plugin  string
	Version string
	// Now allows tests to pin the clock; defaults to time.Now.
	Now func() time.Time
}

// Build assembles the invoice-creation payload for an order.
func (b Builder) Build(o order.Order) (Request, error) {
	if b.ShopID <= 0 {
		return Request{}, common.NewAppError(common.CodeConfigInvalid,
			"shop id is not configured", http.StatusInternalServerError, nil)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return Request{
		ShopID: b.ShopID,
		Amount: money.ToMinorUnits(o.Total),
		Metadata: Metadata{
			CMS:     b.CMS,
			Module:  b.Module,
			Plugin:  b.Plugin,
			Version: b.Version,
			OrderID: o.ID,
		},
		DueDate:  now().UTC().Add(dueDateOffset).Format(dueDateFormat),
		Currency: o.Currency,
		Product:  o.ID,
		Cart:     BuildLines(o),
	}, nil
}
