package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func secretRouter(cronSecret, adminKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SharedSecretMiddleware(zap.NewNop().Sugar(), cronSecret, adminKey))
	r.GET("/protected", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSharedSecretMiddleware(t *testing.T) {
	r := secretRouter("cron-s", "admin-k")

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no header", "", "", http.StatusUnauthorized},
		{"wrong cron secret", HeaderCronSecret, "nope", http.StatusUnauthorized},
		{"valid cron secret", HeaderCronSecret, "cron-s", http.StatusOK},
		{"valid admin key", HeaderAdminKey, "admin-k", http.StatusOK},
		{"admin key in cron header", HeaderCronSecret, "admin-k", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Code, tc.name)
	}
}

func TestSharedSecretMiddleware_UnsetSecretNeverMatches(t *testing.T) {
	r := secretRouter("", "")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(HeaderCronSecret, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
