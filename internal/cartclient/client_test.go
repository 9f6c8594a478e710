package cartclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/checkout"
	"github.com/noah-isme/storefront-engine/internal/common"
	"github.com/noah-isme/storefront-engine/internal/resilience"
)

func newClient(url string) *Client {
	return &Client{
		BaseURL: url,
		Token:   "tkn",
		Reads:   &resilience.HTTPClient{Client: http.DefaultClient, Target: "test_reads", MaxAttempts: 3, BaseBackoff: time.Millisecond},
		Writes:  &resilience.HTTPClient{Client: http.DefaultClient, Target: "test_writes", MaxAttempts: 1},
	}
}

const cartBody = `{"data":{"ownerKey":"user-1","items":[{"productId":"P1","quantity":2,"unitPrice":199.99,"category":"books","lineTotal":399.98}],"subtotal":399.98,"lastModified":"2024-01-01T00:00:00Z"}}`

func TestGetRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/cart", r.URL.Path)
		require.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(cartBody))
	}))
	defer srv.Close()

	c, err := newClient(srv.URL).Get(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
	require.Equal(t, []cart.LineItem{{ProductID: "P1", Quantity: 2, UnitPrice: 19999, Category: "books"}}, c.Items)
	require.Equal(t, cart.KindAuthenticated, c.Kind)
}

func TestAddIsSentOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Add(context.Background(), "P1", 1)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestSyncSendsTokenAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/cart/sync", r.URL.Path)
		var body struct {
			Items []map[string]any `json:"items"`
			Token string           `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "tok", body.Token)
		require.Equal(t, "199.99", body.Items[0]["unitPrice"])
		_, _ = w.Write([]byte(`{"data":{"ownerKey":"user-1","items":[],"subtotal":0,"lastModified":"2024-01-01T00:00:00Z","skipped":["GONE"],"replayed":true}}`))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Sync(context.Background(), cart.SyncRequest{
		Items: []cart.LineItem{{ProductID: "P1", Quantity: 1, UnitPrice: 19999}},
		Token: "tok",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"GONE"}, res.Skipped)
	require.True(t, res.Replayed)
	require.True(t, res.Cart.Empty())
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "cart item not found", nil)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Remove(context.Background(), "P9")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, common.CodeNotFound, apiErr.Code)
}

func TestPlaceOrderSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/checkout/orders", r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get(common.IdempotencyHeader))
		common.Data(w, http.StatusCreated, checkout.OrderResponse{ID: "o-1", Status: "pending"})
	}))
	defer srv.Close()

	out, err := newClient(srv.URL).PlaceOrder(context.Background(), checkout.PlaceOrderBody{PaymentMethod: "card"}, "key-1")
	require.NoError(t, err)
	require.Equal(t, "o-1", out.ID)
}

func TestQuoteAndValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/checkout/totals":
			common.Data(w, http.StatusOK, checkout.TotalsResponse{Subtotal: 400, Total: 522})
		case "/api/v1/checkout/promocode/validate":
			common.Data(w, http.StatusOK, checkout.ValidateResponse{Valid: false, Reason: "INVALID_OR_EXPIRED"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	cl := newClient(srv.URL)

	q, err := cl.Quote(context.Background(), checkout.TotalsRequest{ShippingMethod: "standard"})
	require.NoError(t, err)
	require.Equal(t, 522.0, q.Total)

	v, err := cl.ValidatePromocode(context.Background(), checkout.ValidateRequest{Code: "X"})
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, "INVALID_OR_EXPIRED", v.Reason)
}
