package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/common"
)

func newCartRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-Test-User"); id != "" {
				req = req.WithContext(common.WithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	(&Handler{Svc: svc}).Routes(r)
	return r
}

func doCart(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "user-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHandlerCartLifecycle(t *testing.T) {
	h := newCartRouter(newTestService(newMemRepo()))

	rec, body := doCart(t, h, http.MethodPost, "/cart/items", `{"productId":"P1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	require.Equal(t, 200.0, data["subtotal"])

	rec, body = doCart(t, h, http.MethodPatch, "/cart/items/P1", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["data"].(map[string]any)["items"].([]any)
	require.Equal(t, 3.0, items[0].(map[string]any)["quantity"])
	require.Equal(t, 600.0, items[0].(map[string]any)["lineTotal"])

	rec, _ = doCart(t, h, http.MethodDelete, "/cart/items/P2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = doCart(t, h, http.MethodDelete, "/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, body["data"].(map[string]any)["items"])
}

func TestHandlerSyncReportsSkippedAndReplay(t *testing.T) {
	h := newCartRouter(newTestService(newMemRepo()))
	payload := `{"items":[{"productId":"P2","quantity":2,"unitPrice":"50.00"},{"productId":"X","quantity":1}],"token":"abc"}`

	rec, body := doCart(t, h, http.MethodPost, "/cart/sync", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	require.Equal(t, []any{"X"}, data["skipped"])
	require.Nil(t, data["replayed"])

	_, body = doCart(t, h, http.MethodPost, "/cart/sync", payload)
	data = body["data"].(map[string]any)
	require.Equal(t, true, data["replayed"])
	require.Equal(t, 100.0, data["subtotal"])
}

func TestHandlerValidationAndAuth(t *testing.T) {
	h := newCartRouter(newTestService(newMemRepo()))

	rec, body := doCart(t, h, http.MethodPost, "/cart/items", `{"quantity":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, body["error"].(map[string]any)["code"])

	rec, _ = doCart(t, h, http.MethodPost, "/cart/items", `{"productId":"NOPE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	anon := httptest.NewRecorder()
	h.ServeHTTP(anon, req)
	require.Equal(t, http.StatusUnauthorized, anon.Code)
}
