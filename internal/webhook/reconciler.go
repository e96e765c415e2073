// Package webhook reconciles inbound invoicing notifications against the local
// order store. Every notification is authenticated against the provider's
// public key before any field of its body is trusted.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/hostedpay/internal/common"
	"github.com/noah-isme/hostedpay/internal/money"
	"github.com/noah-isme/hostedpay/internal/obs"
	"github.com/noah-isme/hostedpay/internal/order"
	"github.com/noah-isme/hostedpay/internal/signature"
)

// SignatureHeader is the HTTP header carrying the provider's detached
// signature over the raw body.
const SignatureHeader = "Content-Signature"

// Event types the invoicing provider delivers. Only the invoice-terminal pair
// drives order transitions; the rest are informational.
const (
	EventInvoiceCreated   = "InvoiceCreated"
	EventInvoicePaid      = "InvoicePaid"
	EventInvoiceCancelled = "InvoiceCancelled"
	EventInvoiceFulfilled = "InvoiceFulfilled"
	EventPaymentStarted   = "PaymentStarted"
	EventPaymentProcessed = "PaymentProcessed"
	EventPaymentCaptured  = "PaymentCaptured"
	EventPaymentCancelled = "PaymentCancelled"
	EventPaymentFailed    = "PaymentFailed"
)

// OrderID tolerates both JSON encodings seen in provider payloads: the
// metadata echoes back whatever the merchant sent, so a numeric order id may
// come back as a bare number instead of a string.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = OrderID(n.String())
	return nil
}

// Invoice is the invoice object embedded in a notification.
type Invoice struct {
	ID       string `json:"id"`
	ShopID   int64  `json:"shopID"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Metadata struct {
		OrderID OrderID `json:"order_id"`
	} `json:"metadata"`
}

// Notification is the top-level webhook body.
type Notification struct {
	EventType string   `json:"eventType"`
	Invoice   *Invoice `json:"invoice"`
}

// Result is the HTTP outcome of processing one notification. Only 200 and 400
// are ever produced.
type Result struct {
	Status  int
	Message string
}

// Reconciler validates, authenticates and applies invoicing notifications.
type Reconciler struct {
	Orders    order.Store
	ShopID    int64
	PublicKey string
	Logger    zerolog.Logger
}

// Process runs the full validation chain over one raw notification and applies
// the resulting order transition, if any. Checks run in a fixed order and the
// first failure wins; duplicates of an already-applied event acknowledge with
// 200 so the provider stops retrying.
func (rc *Reconciler) Process(ctx context.Context, body []byte, sigHeader string) Result {
	ctx, span := otel.Tracer("webhook.Reconciler").Start(ctx, "WebhookReconciler.Process")
	defer span.End()

	log := rc.Logger.With().
		Str("signature_header", sigHeader).
		Str("body", string(body)).
		Str("body_sha256", common.Sha256Hex(body)).
		Logger()

	if sigHeader == "" {
		return rc.reject(log, "signature_missing", "Webhook notification signature missing")
	}
	hdr, err := signature.ParseHeader(sigHeader)
	if err != nil {
		return rc.reject(log, "signature_malformed", "Malformed signature header")
	}
	sig, err := signature.DecodeDigest(hdr.Digest)
	if err != nil {
		return rc.reject(log, "signature_malformed", "Malformed signature header")
	}
	if !signature.Verify(body, sig, rc.PublicKey) {
		return rc.reject(log, "signature_mismatch", "Webhook notification signature mismatch")
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil || n.Invoice == nil || n.EventType == "" {
		return rc.reject(log, "fields_missing", "One or more required fields are missing")
	}
	orderID := string(n.Invoice.Metadata.OrderID)
	log = log.With().
		Str("event_type", n.EventType).
		Str("invoice_id", n.Invoice.ID).
		Str("order_id", orderID).
		Logger()
	span.SetAttributes(
		attribute.String("webhook.event_type", n.EventType),
		attribute.String("invoice.id", n.Invoice.ID),
	)

	if orderID == "" {
		return rc.reject(log, "order_id_missing", "Order id is missing in the webhook metadata")
	}
	if n.Invoice.ShopID != rc.ShopID {
		return rc.reject(log, "shop_mismatch", "Shop id mismatch")
	}

	o, err := rc.Orders.Get(ctx, orderID)
	if err != nil {
		return rc.reject(log, "order_not_found", "Order not found")
	}
	if o.Total > 0 && money.ToMinorUnits(o.Total) != n.Invoice.Amount {
		log = log.With().
			Int64("invoice_amount", n.Invoice.Amount).
			Int64("order_amount", money.ToMinorUnits(o.Total)).
			Logger()
		return rc.reject(log, "amount_mismatch", "Amount mismatch")
	}
	if o.Status.Terminal() {
		return rc.ack(log, "duplicate", "Order already finalized")
	}

	switch n.EventType {
	case EventInvoicePaid:
		return rc.apply(ctx, log, orderID, order.StatusCompleted,
			fmt.Sprintf("Payment approved (invoice ID: %s)", n.Invoice.ID), "Payment approved")
	case EventInvoiceCancelled:
		return rc.apply(ctx, log, orderID, order.StatusCancelled,
			fmt.Sprintf("Payment cancelled (invoice ID: %s)", n.Invoice.ID), "Payment cancelled")
	default:
		return rc.ack(log, "informational", "Event acknowledged")
	}
}

func (rc *Reconciler) apply(ctx context.Context, log zerolog.Logger, orderID string, to order.Status, note, message string) Result {
	applied, err := rc.Orders.ApplyTerminal(ctx, orderID, to, note)
	if err != nil {
		// The store refused the transition. Reporting 400 makes the provider
		// retry once the store recovers.
		log.Error().Err(err).Str("to_status", string(to)).Msg("webhook transition failed")
		observe("store_error")
		return Result{Status: http.StatusBadRequest, Message: "Order update failed"}
	}
	if !applied {
		return rc.ack(log, "duplicate", "Order already finalized")
	}
	log.Info().Str("to_status", string(to)).Str("note", note).Msg("webhook applied")
	observe("applied_" + string(to))
	return Result{Status: http.StatusOK, Message: message}
}

func (rc *Reconciler) ack(log zerolog.Logger, result, message string) Result {
	log.Info().Str("result", result).Msg("webhook acknowledged")
	observe(result)
	return Result{Status: http.StatusOK, Message: message}
}

func (rc *Reconciler) reject(log zerolog.Logger, result, message string) Result {
	log.Warn().Str("result", result).Msg("webhook rejected")
	observe(result)
	return Result{Status: http.StatusBadRequest, Message: message}
}

func observe(result string) {
	if obs.WebhookInboundTotal != nil {
		obs.WebhookInboundTotal.WithLabelValues(result).Inc()
	}
}

// Handler adapts the reconciler to HTTP. The body is read raw before any
// parsing because the signature covers the exact bytes on the wire.
func (rc *Reconciler) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rc.Logger.Warn().Err(err).Msg("webhook body read failed")
			common.JSONMessage(w, http.StatusBadRequest, "Unable to read request body")
			return
		}
		res := rc.Process(r.Context(), body, r.Header.Get(SignatureHeader))
		common.JSONMessage(w, res.Status, res.Message)
	}
}
