package controller

import (
	"context"
	"strings"

	contestModel "codearena/internal/contest/model"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const sessionContextKey = "arena_session"

// SessionAuthorizer resolves session tokens.
type SessionAuthorizer interface {
	Authorize(ctx context.Context, token string) (contestModel.Session, error)
}

// SessionAuth requires a valid contest session token in the Authorization
// header and exposes the session to later handlers.
func SessionAuth(auth SessionAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			response.AbortWithError(c, appErr.New(appErr.Unauthorized).WithMessage("missing session token"))
			return
		}
		session, err := auth.Authorize(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(sessionContextKey, session)
		c.Set("user_id", session.UserID)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, session.UserID)
		ctx = context.WithValue(ctx, contextkey.ContestID, session.ContestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SessionFrom returns the session set by SessionAuth.
func SessionFrom(c *gin.Context) (contestModel.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return contestModel.Session{}, false
	}
	session, ok := v.(contestModel.Session)
	return session, ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
