package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"softphone/internal/auth"
)

// RequireWorkspace enforces the multi-tenant invariant: workspace_id must exist in context.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.WorkspaceID(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - hidden roles are denied unless explicitly allowed
// - workspace isolation is enforced via RequireWorkspace (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanViewAgent reports whether a caller with role and identity self may read
// the call journal of target. Agents only see their own calls.
func CanViewAgent(role, self, target string) bool {
	switch {
	case IsSuperAdmin(role), role == RoleOwner, role == RoleSupervisor:
		return true
	case role == RoleAgent:
		return target == self
	default:
		return false
	}
}
