package security

import (
	"net/http"

	"github.com/noah-isme/storefront-engine/internal/common"
)

// BodyLimit caps request payloads. Cart sync batches are the largest bodies the API
// accepts, so Max is sized for them.
type BodyLimit struct {
	Max int64
}

// Middleware rejects declared oversized bodies up front and wraps the rest in
// http.MaxBytesReader so decoding fails once the cap is crossed.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			tooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodeTooLarge, "request entity too large", nil)
}
