package checkout

import (
	"errors"
	"net/http"

	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/promocode"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc *Service
}

// ValidatePromocode answers whether a code applies to an order value. Business rule
// rejections are 200 responses with valid=false.
func (h *Handler) ValidatePromocode(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	res, err := h.Svc.ValidatePromocode(r.Context(), req.toDomain(userID))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewValidateResponse(res))
}

// Totals prices the submitted lines.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	var req TotalsRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	q, err := h.Svc.Quote(r.Context(), QuoteRequest{
		Items:          req.lines(),
		ShippingMethod: req.ShippingMethod,
		PaymentMethod:  req.PaymentMethod,
		Promocode:      req.Promocode,
		UserID:         userID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewTotalsResponse(q))
}

// PlaceOrder turns the caller's cart into an order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauth, "authentication required", nil)
		return
	}
	var req PlaceOrderBody
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		UserID:         userID,
		ShippingMethod: req.ShippingMethod,
		PaymentMethod:  req.PaymentMethod,
		Promocode:      req.Promocode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, newOrderResponse(o))
}

func writeError(w http.ResponseWriter, err error) {
	var (
		verr     *pricing.ValidationError
		rejected *PromocodeRejectedError
	)
	switch {
	case errors.As(err, &verr):
		var details map[string]string
		if verr.Field != "" {
			details = map[string]string{verr.Field: verr.Reason}
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, verr.Error(), details)
	case errors.Is(err, pricing.ErrUnknownShippingMethod),
		errors.Is(err, promocode.ErrInvalidRequest),
		errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
	case errors.As(err, &rejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "PROMOCODE_REJECTED", rejected.Result.Message, NewValidateResponse(rejected.Result))
	case errors.Is(err, ErrPromocodeExhausted), errors.Is(err, ErrPromocodeUserLimit):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrNotConfigured):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeUnavail, err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
