package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nutricoach/mfaauth"
)

const principalKey = "mfaauth.principal"

// requestContext carries the client address and user agent into the
// request context for audit records and device naming.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := mfaauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = mfaauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			s.abortWithError(c, mfaauth.ErrUnauthorized)
			return
		}
		principal, err := s.engine.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.Set(principalKey, *principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) mfaauth.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(mfaauth.Principal)
	return principal
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
