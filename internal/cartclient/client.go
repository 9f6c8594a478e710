// Package cartclient talks to the storefront API on behalf of a shopper device.
package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/checkout"
	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/pricing"
	"github.com/noah-isme/storefront-engine/internal/resilience"
)

const apiPrefix = "/api/v1"

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("cartclient: status %d", e.Status)
	}
	return fmt.Sprintf("cartclient: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Client calls the cart and checkout endpoints. Reads and idempotent writes go through
// Reads, which may retry; adds and order placement go through Writes, which should be
// configured with a single attempt.
type Client struct {
	BaseURL string
	Token   string
	Reads   *resilience.HTTPClient
	Writes  *resilience.HTTPClient
}

var _ cart.Server = (*Client)(nil)

// Get implements cart.Server.
func (c *Client) Get(ctx context.Context) (cart.Cart, error) {
	var p cart.Payload
	err := c.call(ctx, c.Reads, http.MethodGet, "/cart", nil, nil, &p)
	return p.Cart(), err
}

// Add implements cart.Server.
func (c *Client) Add(ctx context.Context, productID string, quantity int) (cart.Cart, error) {
	var p cart.Payload
	body := map[string]any{"productId": productID, "quantity": quantity}
	err := c.call(ctx, c.Writes, http.MethodPost, "/cart/items", body, nil, &p)
	return p.Cart(), err
}

// UpdateQuantity implements cart.Server.
func (c *Client) UpdateQuantity(ctx context.Context, productID string, quantity int) (cart.Cart, error) {
	var p cart.Payload
	body := map[string]any{"quantity": quantity}
	err := c.call(ctx, c.Reads, http.MethodPatch, "/cart/items/"+url.PathEscape(productID), body, nil, &p)
	return p.Cart(), err
}

// Remove implements cart.Server.
func (c *Client) Remove(ctx context.Context, productID string) (cart.Cart, error) {
	var p cart.Payload
	err := c.call(ctx, c.Reads, http.MethodDelete, "/cart/items/"+url.PathEscape(productID), nil, nil, &p)
	return p.Cart(), err
}

// Clear implements cart.Server.
func (c *Client) Clear(ctx context.Context) (cart.Cart, error) {
	var p cart.Payload
	err := c.call(ctx, c.Reads, http.MethodDelete, "/cart", nil, nil, &p)
	return p.Cart(), err
}

type syncItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Category  string `json:"category,omitempty"`
}

// Sync implements cart.Server. The merge token makes retries safe.
func (c *Client) Sync(ctx context.Context, req cart.SyncRequest) (cart.SyncResult, error) {
	items := make([]syncItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, syncItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.FormatMajor(it.UnitPrice),
			Category:  it.Category,
		})
	}
	var p cart.Payload
	body := map[string]any{"items": items, "token": req.Token}
	if err := c.call(ctx, c.Reads, http.MethodPost, "/cart/sync", body, nil, &p); err != nil {
		return cart.SyncResult{}, err
	}
	return cart.SyncResult{Cart: p.Cart(), Skipped: p.Skipped, Replayed: p.Replayed}, nil
}

// Quote prices lines through the totals endpoint.
func (c *Client) Quote(ctx context.Context, req checkout.TotalsRequest) (checkout.TotalsResponse, error) {
	var out checkout.TotalsResponse
	err := c.call(ctx, c.Reads, http.MethodPost, "/checkout/totals", req, nil, &out)
	return out, err
}

// ValidatePromocode checks a code against an order value.
func (c *Client) ValidatePromocode(ctx context.Context, req checkout.ValidateRequest) (checkout.ValidateResponse, error) {
	var out checkout.ValidateResponse
	err := c.call(ctx, c.Reads, http.MethodPost, "/checkout/promocode/validate", req, nil, &out)
	return out, err
}

// PlaceOrder submits the server cart as an order under idempotencyKey.
func (c *Client) PlaceOrder(ctx context.Context, req checkout.PlaceOrderBody, idempotencyKey string) (checkout.OrderResponse, error) {
	var out checkout.OrderResponse
	headers := http.Header{}
	if idempotencyKey != "" {
		headers.Set(common.IdempotencyHeader, idempotencyKey)
	}
	err := c.call(ctx, c.Writes, http.MethodPost, "/checkout/orders", req, headers, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, hc *resilience.HTTPClient, method, path string, body any, headers http.Header, out any) error {
	if hc == nil {
		return fmt.Errorf("cartclient: no http client for %s %s", method, path)
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	resp, err := hc.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error common.ErrorBody `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("cartclient: decode %s %s: %w", method, path, err)
	}
	return nil
}
