package checkout

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/hostedpay/internal/common"
)

// Handler exposes the checkout service over HTTP.
type Handler struct {
	Service *Service
}

// Checkout handles POST /api/v1/orders/{orderID}/checkout.
func (h Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationError, "order id is required", nil)
		return
	}
	widget, err := h.Service.Checkout(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, widget)
}

// Confirm handles GET /api/v1/orders/{orderID}/confirmation.
func (h Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationError, "order id is required", nil)
		return
	}
	conf, err := h.Service.Confirm(r.Context(), orderID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, conf)
}

// writeError maps service errors onto the canonical error envelope. Messages
// stay generic so provider responses and key material never leak to buyers.
func writeError(w http.ResponseWriter, err error) {
	if app, ok := common.AsAppError(err); ok {
		common.JSONError(w, app.HTTPStatus, app.Code, app.Message, nil)
		return
	}
	common.JSONError(w, http.StatusBadGateway, common.CodeProviderError, "payment provider unavailable", nil)
}
