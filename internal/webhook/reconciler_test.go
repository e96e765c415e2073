package webhook_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/order"
	"github.com/noah-isme/hostedpay/internal/webhook"
)

type signer struct {
	key       *rsa.PrivateKey
	publicPEM string
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return signer{key: key, publicPEM: string(pemKey)}
}

// header produces a Content-Signature value in the provider's URL-safe dialect.
func (s signer) header(t *testing.T, body []byte) string {
	t.Helper()
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(sig)
	encoded = strings.NewReplacer("+", "-", "/", "_").Replace(strings.TrimRight(encoded, "="))
	return fmt.Sprintf("alg=RS256; digest=%s", encoded)
}

func notificationBody(t *testing.T, eventType string, shopID, amount int64, orderID any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"eventType": eventType,
		"invoice": map[string]any{
			"id":       "inv-77",
			"shopID":   shopID,
			"amount":   amount,
			"currency": "RUB",
			"metadata": map[string]any{"order_id": orderID},
		},
	})
	require.NoError(t, err)
	return body
}

func newReconciler(store order.Store, publicPEM string) *webhook.Reconciler {
	return &webhook.Reconciler{
		Orders:    store,
		ShopID:    42,
		PublicKey: publicPEM,
		Logger:    zerolog.Nop(),
	}
}

func pendingOrder() order.Order {
	return order.Order{ID: "order-9", Currency: "RUB", Total: 19.99, Status: order.StatusOnHold}
}

func TestProcessRejections(t *testing.T) {
	s := newSigner(t)
	good := notificationBody(t, webhook.EventInvoicePaid, 42, 1999, "order-9")

	cases := []struct {
		name    string
		body    []byte
		header  func([]byte) string
		message string
	}{
		{
			name:    "missing signature",
			body:    good,
			header:  func([]byte) string { return "" },
			message: "Webhook notification signature missing",
		},
		{
			name:    "malformed header",
			body:    good,
			header:  func([]byte) string { return "digest-only-no-alg" },
			message: "Malformed signature header",
		},
		{
			name: "signature over different body",
			body: good,
			header: func([]byte) string {
				return s.header(t, []byte(`{"eventType":"InvoicePaid"}`))
			},
			message: "Webhook notification signature mismatch",
		},
		{
			name:    "missing invoice",
			body:    []byte(`{"eventType":"InvoicePaid"}`),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "One or more required fields are missing",
		},
		{
			name:    "missing event type",
			body:    []byte(`{"invoice":{"id":"inv-77","shopID":42,"amount":1999}}`),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "One or more required fields are missing",
		},
		{
			name:    "missing order id",
			body:    []byte(`{"eventType":"InvoicePaid","invoice":{"id":"inv-77","shopID":42,"amount":1999,"metadata":{}}}`),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "Order id is missing in the webhook metadata",
		},
		{
			name:    "shop id mismatch",
			body:    notificationBody(t, webhook.EventInvoicePaid, 7, 1999, "order-9"),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "Shop id mismatch",
		},
		{
			name:    "unknown order",
			body:    notificationBody(t, webhook.EventInvoicePaid, 42, 1999, "order-404"),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "Order not found",
		},
		{
			name:    "amount mismatch",
			body:    notificationBody(t, webhook.EventInvoicePaid, 42, 2100, "order-9"),
			header:  func(b []byte) string { return s.header(t, b) },
			message: "Amount mismatch",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := order.NewMemoryStore(pendingOrder())
			rc := newReconciler(store, s.publicPEM)

			res := rc.Process(context.Background(), tc.body, tc.header(tc.body))

			require.Equal(t, http.StatusBadRequest, res.Status)
			require.Equal(t, tc.message, res.Message)
			o, err := store.Get(context.Background(), "order-9")
			require.NoError(t, err)
			require.Equal(t, order.StatusOnHold, o.Status)
			require.Empty(t, store.Notes("order-9"))
		})
	}
}

func TestProcessInvoicePaidIsIdempotent(t *testing.T) {
	s := newSigner(t)
	store := order.NewMemoryStore(pendingOrder())
	rc := newReconciler(store, s.publicPEM)
	body := notificationBody(t, webhook.EventInvoicePaid, 42, 1999, "order-9")

	res := rc.Process(context.Background(), body, s.header(t, body))
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Payment approved", res.Message)

	o, err := store.Get(context.Background(), "order-9")
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, o.Status)
	require.Equal(t, []string{"Payment approved (invoice ID: inv-77)"}, store.Notes("order-9"))

	// Redelivery of the same event acknowledges without a second transition.
	res = rc.Process(context.Background(), body, s.header(t, body))
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Order already finalized", res.Message)
	require.Len(t, store.Notes("order-9"), 1)
}

func TestProcessInvoiceCancelled(t *testing.T) {
	s := newSigner(t)
	store := order.NewMemoryStore(pendingOrder())
	rc := newReconciler(store, s.publicPEM)
	body := notificationBody(t, webhook.EventInvoiceCancelled, 42, 1999, "order-9")

	res := rc.Process(context.Background(), body, s.header(t, body))

	require.Equal(t, http.StatusOK, res.Status)
	o, err := store.Get(context.Background(), "order-9")
	require.NoError(t, err)
	require.Equal(t, order.StatusCancelled, o.Status)
	require.Equal(t, []string{"Payment cancelled (invoice ID: inv-77)"}, store.Notes("order-9"))
}

func TestProcessInformationalEventLeavesOrderAlone(t *testing.T) {
	s := newSigner(t)
	store := order.NewMemoryStore(pendingOrder())
	rc := newReconciler(store, s.publicPEM)
	body := notificationBody(t, webhook.EventPaymentProcessed, 42, 1999, "order-9")

	res := rc.Process(context.Background(), body, s.header(t, body))

	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "Event acknowledged", res.Message)
	o, err := store.Get(context.Background(), "order-9")
	require.NoError(t, err)
	require.Equal(t, order.StatusOnHold, o.Status)
	require.Empty(t, store.Notes("order-9"))
}

func TestProcessNumericOrderID(t *testing.T) {
	s := newSigner(t)
	store := order.NewMemoryStore(order.Order{ID: "1234", Currency: "RUB", Total: 19.99, Status: order.StatusOnHold})
	rc := newReconciler(store, s.publicPEM)
	body := notificationBody(t, webhook.EventInvoicePaid, 42, 1999, 1234)

	res := rc.Process(context.Background(), body, s.header(t, body))

	require.Equal(t, http.StatusOK, res.Status)
	o, err := store.Get(context.Background(), "1234")
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, o.Status)
}

func TestHandlerWritesMessageEnvelope(t *testing.T) {
	s := newSigner(t)
	store := order.NewMemoryStore(pendingOrder())
	rc := newReconciler(store, s.publicPEM)
	body := notificationBody(t, webhook.EventInvoicePaid, 42, 1999, "order-9")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/invoicing", strings.NewReader(string(body)))
	req.Header.Set(webhook.SignatureHeader, s.header(t, body))
	rec := httptest.NewRecorder()
	rc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Payment approved"}`, rec.Body.String())

	// Without the header the handler answers 400 in the same envelope.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/invoicing", strings.NewReader(string(body)))
	rec = httptest.NewRecorder()
	rc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"message":"Webhook notification signature missing"}`, rec.Body.String())
}
