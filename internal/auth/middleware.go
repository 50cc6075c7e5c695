package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperr"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const claimsKey = "auth.claims"

// RequireUser rejects requests without a valid user token.
func RequireUser(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractToken(c.Request)
		if err != nil {
			abort(c, apperr.UnauthorizedErr("Unauthorized"))
			return
		}
		claims, err := authn.AuthenticateBearer(token)
		if err != nil {
			abort(c, apperr.UnauthorizedErr("Unauthorized"))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin must run after RequireUser. Callers that are neither admin nor
// super-admin get 403.
func RequireAdmin(profiles interfaces.ProfileRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		if !ok {
			abort(c, apperr.UnauthorizedErr("Unauthorized"))
			return
		}

		profile, err := profiles.GetProfile(c.Request.Context(), claims.UserID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			telemetry.Logger.Error("Profile lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
			abort(c, &apperr.AppError{Kind: apperr.Internal, PublicMsg: "Profile lookup failed", Err: err})
			return
		}
		if profile == nil || !profile.CanOperatePayments() {
			abort(c, apperr.ForbiddenErr("Admin privileges required"))
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, err *apperr.AppError) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"success": false, "message": apperr.PublicMessage(err)})
}
