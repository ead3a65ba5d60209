package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/hours-engine/ledger"
)

// Identity headers set by the upstream gateway. The engine does no
// authentication of its own and trusts them as given.
const (
	HeaderEmployeeID   = "X-Employee-ID"
	HeaderEmployeeRole = "X-Employee-Role"
)

// Role of the caller.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Identity is the caller as asserted by the gateway.
type Identity struct {
	EmployeeID ledger.EmployeeID
	Role       Role
}

// CanManage reports whether the caller may act on other employees.
func (i Identity) CanManage() bool { return i.Role == RoleManager || i.Role == RoleAdmin }

// CanAccess reports whether the caller may touch id's resources.
func (i Identity) CanAccess(id ledger.EmployeeID) bool { return i.CanManage() || i.EmployeeID == id }

type identityKey struct{}

// IdentityFromContext returns the caller set by RequireIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireIdentity rejects requests without a usable identity with 401.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		employeeID := strings.TrimSpace(r.Header.Get(HeaderEmployeeID))
		if employeeID == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderEmployeeID+" header", nil)
			return
		}
		role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderEmployeeRole))))
		switch role {
		case "":
			role = RoleEmployee
		case RoleEmployee, RoleManager, RoleAdmin:
		default:
			writeError(w, http.StatusUnauthorized, "Unknown role", nil)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, Identity{EmployeeID: ledger.EmployeeID(employeeID), Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows only the given roles through, 403 otherwise.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := IdentityFromContext(r.Context())
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Insufficient role", nil)
		})
	}
}
