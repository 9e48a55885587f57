package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/pkg/auth"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/httputil"
)

const (
	ContextCaller = "caller"
	// HeaderOrgID selects the org a multi-org user acts in when the token
	// does not carry one.
	HeaderOrgID    = "X-Organization-ID"
	HeaderPlatform = "X-Platform"
)

// Resolver checks token claims against the user directory.
type Resolver interface {
	Resolve(ctx context.Context, auth model.AuthContext) (*model.Caller, error)
}

type AuthMiddleware struct {
	verifier auth.Verifier
	resolver Resolver
}

func NewAuthMiddleware(verifier auth.Verifier, resolver Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		resolver: resolver,
	}
}

// Authenticate verifies the bearer token and stores the resolved caller in
// the gin context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("missing authorization header")))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("invalid authorization format")))
			return
		}

		claims, err := m.verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		authCtx := model.AuthContext{
			ExternalID: claims.Subject,
			Role:       claims.Role,
			OrgID:      claims.OrgID,
			Platform:   claims.Platform,
			IPv4:       c.ClientIP(),
			Email:      claims.Email,
		}
		if authCtx.OrgID == 0 {
			if raw := c.GetHeader(HeaderOrgID); raw != "" {
				orgID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					httputil.RespondWithError(c, errors.BadRequest("invalid organization ID", err))
					return
				}
				authCtx.OrgID = orgID
			}
		}
		if authCtx.Platform == "" {
			authCtx.Platform = c.GetHeader(HeaderPlatform)
		}

		caller, err := m.resolver.Resolve(c.Request.Context(), authCtx)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		c.Set(ContextCaller, caller)
		c.Next()
	}
}

// CallerFrom returns the caller Authenticate stored, or nil.
func CallerFrom(c *gin.Context) *model.Caller {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return nil
	}
	caller, _ := v.(*model.Caller)
	return caller
}
