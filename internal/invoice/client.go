package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/hostedpay/internal/obs"
)

// Session pairs a provider invoice with the access token the hosted payment
// form needs to operate on it.
type Session struct {
	InvoiceID   string
	AccessToken string
}

// ProviderError reports a non-201 answer from the provider API. The body is
// retained for logging; callers surface a generic failure to the buyer.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

// TransportError reports a connection-level failure talking to the provider,
// including timeouts.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "provider unreachable: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Client performs outbound calls against the provider's processing API. Calls
// are single-attempt; retrying is the caller's decision. The HTTP client's
// transport keeps standard TLS verification.
type Client struct {
	BaseURL    string
	PrivateKey string
	HTTP       *http.Client
	Logger     zerolog.Logger
}

// CreateInvoice creates an invoice for the request and resolves an access
// token for it. Some provider versions embed the token in the creation
// response; older ones require a follow-up access-token call. Both shapes are
// handled here so callers see a single Session either way.
func (c *Client) CreateInvoice(ctx context.Context, req Request) (Session, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("encode invoice request: %w", err)
	}
	body, err := c.post(ctx, "processing/invoices", payload)
	if err != nil {
		countCreate(err)
		return Session{}, err
	}
	var out struct {
		ID      string `json:"id"`
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
		InvoiceAccessToken struct {
			Payload string `json:"payload"`
		} `json:"invoiceAccessToken"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		err = &ProviderError{Status: http.StatusCreated, Body: "unparseable creation response"}
		countCreate(err)
		return Session{}, err
	}
	invoiceID := out.Invoice.ID
	if invoiceID == "" {
		invoiceID = out.ID
	}
	if invoiceID == "" {
		err = &ProviderError{Status: http.StatusCreated, Body: "creation response missing invoice id"}
		countCreate(err)
		return Session{}, err
	}
	token := out.InvoiceAccessToken.Payload
	if token == "" {
		token, err = c.createAccessToken(ctx, invoiceID)
		if err != nil {
			countCreate(err)
			return Session{}, err
		}
	}
	c.Logger.Debug().Str("invoice_id", invoiceID).Msg("invoice created")
	countCreate(nil)
	return Session{InvoiceID: invoiceID, AccessToken: token}, nil
}

func countCreate(err error) {
	if obs.InvoiceCreateTotal == nil {
		return
	}
	result := "ok"
	var provErr *ProviderError
	var transErr *TransportError
	switch {
	case err == nil:
	case errors.As(err, &provErr):
		result = "provider_error"
	case errors.As(err, &transErr):
		result = "transport_error"
	default:
		result = "error"
	}
	obs.InvoiceCreateTotal.WithLabelValues(result).Inc()
}

func (c *Client) createAccessToken(ctx context.Context, invoiceID string) (string, error) {
	body, err := c.post(ctx, "processing/invoices/"+invoiceID+"/access_tokens", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Payload == "" {
		return "", &ProviderError{Status: http.StatusCreated, Body: "access token response missing payload"}
	}
	return out.Payload, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/" + path
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.PrivateKey))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		c.Logger.Error().Err(err).Str("url", url).Str("request_id", requestID).Msg("provider call failed")
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	c.Logger.Debug().
		Str("url", url).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Msg("provider call")
	if resp.StatusCode != http.StatusCreated {
		return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
