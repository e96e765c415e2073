// Package checkout drives the buyer-facing half of the gateway: it prepares
// the hosted payment form for an order and handles the return redirect.
package checkout

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/hostedpay/internal/common"
	"github.com/noah-isme/hostedpay/internal/obs"
	"github.com/noah-isme/hostedpay/internal/order"
	"github.com/noah-isme/hostedpay/internal/session"
)

const onHoldNote = "Awaiting hosted invoice payment"

// FormOptions are the cosmetic fields rendered into the hosted form widget.
type FormOptions struct {
	LogoURL     string `json:"logoUrl,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	ButtonLabel string `json:"buttonLabel,omitempty"`
	Description string `json:"description,omitempty"`
}

// WidgetData is everything the storefront needs to mount the hosted form.
type WidgetData struct {
	OrderID     string      `json:"orderId"`
	InvoiceID   string      `json:"invoiceId"`
	AccessToken string      `json:"invoiceAccessToken"`
	ScriptURL   string      `json:"checkoutScriptUrl"`
	Form        FormOptions `json:"form"`
}

// Confirmation is the response for the post-payment return redirect.
type Confirmation struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// Service owns checkout bookkeeping and session reconciliation.
type Service struct {
	Orders    order.Store
	Sessions  *session.Manager
	ScriptURL string
	Form      FormOptions
	Logger    zerolog.Logger
}

// Checkout prepares the hosted form for an order. The first call moves the
// order to on-hold, decrements stock and clears the cart; later calls find the
// order already on hold and skip that bookkeeping, so reloading the payment
// page is safe. The invoice session is resolved through the manager, which
// guarantees a single provider invoice per order.
func (s *Service) Checkout(ctx context.Context, orderID string) (WidgetData, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		s.count("order_not_found")
		return WidgetData{}, common.NewAppError(common.CodeNotFound, "order not found", http.StatusNotFound, err)
	}
	if o.Status.Terminal() {
		s.count("order_finalized")
		return WidgetData{}, common.NewAppError(common.CodeValidationError, "order is already finalized", http.StatusConflict, nil)
	}

	applied, err := s.Orders.MarkOnHold(ctx, orderID, onHoldNote)
	if err != nil {
		s.count("store_error")
		return WidgetData{}, common.NewAppError(common.CodeInternal, "order update failed", http.StatusInternalServerError, err)
	}
	if applied {
		if err := s.Orders.DecrementStock(ctx, orderID); err != nil {
			s.count("store_error")
			return WidgetData{}, common.NewAppError(common.CodeInternal, "stock update failed", http.StatusInternalServerError, err)
		}
		if err := s.Orders.ClearCart(ctx, orderID); err != nil {
			s.count("store_error")
			return WidgetData{}, common.NewAppError(common.CodeInternal, "cart update failed", http.StatusInternalServerError, err)
		}
		s.Logger.Info().Str("order_id", orderID).Msg("order placed on hold")
	}

	sess, err := s.Sessions.GetOrCreate(ctx, o)
	if err != nil {
		s.count("invoice_error")
		return WidgetData{}, err
	}
	s.count("ok")
	return WidgetData{
		OrderID:     orderID,
		InvoiceID:   sess.InvoiceID,
		AccessToken: sess.AccessToken,
		ScriptURL:   s.ScriptURL,
		Form:        s.Form,
	}, nil
}

// Confirm handles the buyer's return from the hosted form. On success it only
// drops the local session marker. The order itself is untouched: the webhook
// is the single writer of payment outcomes.
func (s *Service) Confirm(ctx context.Context, orderID, status string) (Confirmation, error) {
	if _, err := s.Orders.Get(ctx, orderID); err != nil {
		return Confirmation{}, common.NewAppError(common.CodeNotFound, "order not found", http.StatusNotFound, err)
	}
	if status != "success" {
		return Confirmation{OrderID: orderID, Message: "Payment not completed"}, nil
	}
	if err := s.Sessions.Forget(ctx, orderID); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("session cleanup failed")
	}
	return Confirmation{OrderID: orderID, Message: "Thank you for your payment"}, nil
}

func (s *Service) count(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(result).Inc()
	}
}
