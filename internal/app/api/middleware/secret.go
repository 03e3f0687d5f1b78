package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rapidahost/billinghub/pkg/logctx"
	"github.com/rapidahost/billinghub/pkg/response"
)

const (
	HeaderCronSecret = "x-cron-secret"
	HeaderAdminKey   = "x-admin-key"
)

// SharedSecretMiddleware authenticates scheduler and admin calls by exact
// match of a shared-secret header against the configured value. Either
// header/secret pair grants access; an unset secret never matches.
func SharedSecretMiddleware(base *zap.SugaredLogger, cronSecret, adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secretMatches(c.GetHeader(HeaderCronSecret), cronSecret) ||
			secretMatches(c.GetHeader(HeaderAdminKey), adminKey) {
			c.Next()
			return
		}

		logctx.FromGin(c, base).Warnw("shared_secret_rejected",
			"path", c.FullPath(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "unauthorized"))
	}
}

func secretMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
