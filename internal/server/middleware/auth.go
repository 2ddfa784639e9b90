package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/switchyardai/switchyard/internal/contexts"
	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

// WithAdminAuth validates the admin bearer token and stores the authenticated
// subject in the request context.
func WithAdminAuth(auth *biz.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractBearerToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, objects.ErrorResponse{
				Error: objects.Error{
					Type:    http.StatusText(http.StatusUnauthorized),
					Message: err.Error(),
				},
			})

			return
		}

		subject, err := auth.AuthenticateJWTToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, biz.ErrInvalidJWT) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, objects.ErrorResponse{
					Error: objects.Error{
						Type:    http.StatusText(http.StatusUnauthorized),
						Message: "Invalid token",
					},
				})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
					Error: objects.Error{
						Type:    http.StatusText(http.StatusInternalServerError),
						Message: "Failed to validate token",
					},
				})
			}

			return
		}

		ctx := contexts.WithAdminSubject(c.Request.Context(), subject)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
