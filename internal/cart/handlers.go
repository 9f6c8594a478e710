package cart

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/pricing"
)

// Handler exposes the authenticated cart over HTTP. Routes must sit behind the auth
// middleware.
type Handler struct {
	Svc *Service
}

// Routes mounts the cart endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cart", h.Get)
	r.Delete("/cart", h.Clear)
	r.Post("/cart/items", h.AddItem)
	r.Patch("/cart/items/{productId}", h.UpdateItem)
	r.Delete("/cart/items/{productId}", h.RemoveItem)
	r.Post("/cart/sync", h.Sync)
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=100000"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=100000"`
}

type syncItemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1,max=100000"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Category  string          `json:"category"`
}

type syncRequest struct {
	Items []syncItemRequest `json:"items" validate:"max=1000,dive"`
	Token string            `json:"token" validate:"max=128"`
}

// Get returns the caller's cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Get(r.Context(), userID)
	h.respond(w, c, err)
}

// AddItem adds a product, defaulting to a quantity of one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	c, err := h.Svc.Add(r.Context(), userID, req.ProductID, qty)
	h.respond(w, c, err)
}

// UpdateItem sets a line quantity; zero removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Svc.UpdateQuantity(r.Context(), userID, chi.URLParam(r, "productId"), *req.Quantity)
	h.respond(w, c, err)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Remove(r.Context(), userID, chi.URLParam(r, "productId"))
	h.respond(w, c, err)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Clear(r.Context(), userID)
	h.respond(w, c, err)
}

// Sync merges a guest cart into the caller's cart.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.FromMajor(it.UnitPrice),
			Category:  it.Category,
		})
	}
	res, err := h.Svc.Sync(r.Context(), userID, SyncRequest{Items: items, Token: req.Token})
	if err != nil {
		writeError(w, err)
		return
	}
	payload := res.Cart.Payload()
	payload.Skipped = res.Skipped
	payload.Replayed = res.Replayed
	common.Data(w, http.StatusOK, payload)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return "", false
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauth, "authentication required", nil)
		return "", false
	}
	return userID, true
}

func (h *Handler) respond(w http.ResponseWriter, c Cart, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, c.Payload())
}

func writeError(w http.ResponseWriter, err error) {
	if _, ok := common.AsAppError(err); ok {
		common.WriteError(w, err)
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownProduct):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
