package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/http/response"
	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
)

const (
	// UserHeader carries the authenticated identity, injected by the
	// authentication proxy in front of the service.
	UserHeader = "X-Auth-Request-User"
	// TokenHeader optionally carries a delegated credential forwarded to the
	// backend worker.
	TokenHeader = "X-Auth-Request-Token"

	userKey  = "uws.user"
	tokenKey = "uws.token"
)

type AuthMiddleware struct {
	log *logger.Logger
}

func NewAuthMiddleware(log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware")}
}

// RequireUser rejects any request without the authenticated-user header.
func (am *AuthMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(UserHeader)
		if user == "" {
			response.Usage(c, 0, errors.New("missing "+UserHeader+" header"))
			return
		}
		c.Set(userKey, user)
		if token := c.GetHeader(TokenHeader); token != "" {
			c.Set(tokenKey, token)
		}
		c.Next()
	}
}

// User returns the authenticated identity set by RequireUser.
func User(c *gin.Context) string {
	return c.GetString(userKey)
}

// Token returns the delegated credential, if one was supplied.
func Token(c *gin.Context) string {
	return c.GetString(tokenKey)
}
