package invoice

import (
	"math"

	"github.com/noah-isme/hostedpay/internal/money"
	"github.com/noah-isme/hostedpay/internal/order"
)

// TaxMode describes the provider's per-line VAT bucket.
type TaxMode struct {
	Type string `json:"type"`
	Rate string `json:"rate"`
}

// CartLine is one entry of the invoice cart in the provider schema. Price is in
// integer minor units.
type CartLine struct {
	Product  string   `json:"product"`
	Quantity int64    `json:"quantity"`
	Price    int64    `json:"price"`
	TaxMode  *TaxMode `json:"taxMode,omitempty"`
}

const taxModeVAT = "InvoiceLineTaxVAT"

const shippingLineName = "Shipping"

// The provider accepts only these VAT buckets; any other derived rate is sent
// without a tax mode rather than an invented one.
var vatBuckets = map[int]string{0: "0%", 10: "10%", 18: "18%"}

// BuildLines maps an order's line items and shipping into provider cart lines.
// Shipping comes first, then item lines. Lines whose minor-unit price is not
// positive are dropped.
func BuildLines(o order.Order) []CartLine {
	lines := make([]CartLine, 0, len(o.Lines)+1)
	if shipping, ok := buildLine(shippingLineName, 1, o.ShippingTotal, o.ShippingTax); ok {
		lines = append(lines, shipping)
	}
	for _, item := range o.Lines {
		if line, ok := buildLine(item.Name, item.Quantity, item.Total, item.Tax); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func buildLine(name string, quantity int, total, tax float64) (CartLine, bool) {
	if quantity < 1 {
		return CartLine{}, false
	}
	unit := money.Round2((total + tax) / float64(quantity))
	price := money.ToMinorUnits(unit)
	if price <= 0 {
		return CartLine{}, false
	}
	return CartLine{
		Product:  name,
		Quantity: int64(quantity),
		Price:    price,
		TaxMode:  deriveTaxMode(total, tax),
	}, true
}

// deriveTaxMode buckets the effective rate floor(tax/total*100) into the fixed
// provider set.
func deriveTaxMode(total, tax float64) *TaxMode {
	if total <= 0 {
		return nil
	}
	rate := int(math.Floor(tax / total * 100))
	label, ok := vatBuckets[rate]
	if !ok {
		return nil
	}
	return &TaxMode{Type: taxModeVAT, Rate: label}
}
