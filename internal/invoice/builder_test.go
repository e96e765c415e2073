package invoice_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/common"
	"github.com/noah-isme/hostedpay/internal/invoice"
	"github.com/noah-isme/hostedpay/internal/order"
)

func testBuilder() invoice.Builder {
	return invoice.Builder{
		ShopID:  42,
		CMS:     "storefront",
		Module:  "hostedpay",
		Plugin:  "hostedpay-gateway",
		Version: "1.0",
		Now:     func() time.Time { return time.Date(2024, 3, 10, 12, 30, 45, 0, time.UTC) },
	}
}

func TestBuildRequest(t *testing.T) {
	o := order.Order{
		ID:       "order-7",
		Currency: "RUB",
		Total:    19.99,
		Lines:    []order.Line{{Name: "Widget", Quantity: 1, Total: 19.99, Tax: 0}},
		Status:   order.StatusPending,
	}
	req, err := testBuilder().Build(o)
	require.NoError(t, err)
	require.Equal(t, int64(42), req.ShopID)
	require.Equal(t, int64(1999), req.Amount)
	require.Equal(t, "RUB", req.Currency)
	require.Equal(t, "order-7", req.Product)
	require.Equal(t, "order-7", req.Metadata.OrderID)
	require.Equal(t, "hostedpay-gateway", req.Metadata.Plugin)
	// due date is one day out, UTC, trailing Z
	require.Equal(t, "2024-03-11T12:30:45Z", req.DueDate)
	require.Len(t, req.Cart, 1)
}

func TestBuildRequiresShopID(t *testing.T) {
	b := testBuilder()
	b.ShopID = 0
	_, err := b.Build(order.Order{ID: "order-7"})
	require.Error(t, err)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeConfigInvalid, appErr.Code)
}
