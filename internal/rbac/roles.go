package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleModem    = "modem" // hidden role held by the radio interface bridge
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleModem }

// IsKnownRole reports whether role is one of the roles above.
func IsKnownRole(role string) bool {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin, RoleModem:
		return true
	}
	return false
}
