package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanSupervise reports whether the role may act on other agents' dialer sessions.
func CanSupervise(role string) bool { return role == RoleAdmin || role == RoleManager }

func IsKnown(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleAgent:
		return true
	default:
		return false
	}
}
