package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-behavior-api/internal/middleware"
	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requireClaims returns the caller or ErrUnauthorized when the route was mounted without JWT.
func requireClaims(c *gin.Context) (*models.JWTClaims, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}

// actorID is the acting expert for case mutations; administrators act without one.
func actorID(claims *models.JWTClaims) string {
	if claims.Role == models.RoleExpert {
		return claims.UserID
	}
	return ""
}

func isAdmin(claims *models.JWTClaims) bool {
	return claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
}
