package middlewares

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the tenant and user identity from request
// headers into the request context. Auth proper (token validation, RBAC)
// lives in the gateway in front of this service; here we only require that a
// tenant is named.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationId := c.Request.Header.Get("x-organization-id")
		if organizationId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "x-organization-id header is required"})
			c.Abort()
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), organizationId)
		if userId, err := strconv.Atoi(c.Request.Header.Get("x-user-id")); err == nil {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := c.Request.Header.Get("x-user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
