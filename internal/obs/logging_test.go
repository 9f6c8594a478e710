package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-engine/internal/common"
)

func TestRequestLoggerWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "storefront-api", "json", "info")

	handler := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{}"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	req = req.WithContext(common.WithUserID(WithRoute(req.Context(), "/api/v1/cart/items"), "user-7"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "storefront-api", entry["service"])
	require.Equal(t, "/api/v1/cart/items", entry["route"])
	require.Equal(t, float64(http.StatusCreated), entry["status"])
	require.Equal(t, "user-7", entry["user_id"])
	require.Equal(t, float64(2), entry["bytes"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "", "json", "nonsense")
	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, ParseBucketsCSV(" 5, x, -1, 10.5 ,"))
	require.Nil(t, ParseBucketsCSV("  "))
}
