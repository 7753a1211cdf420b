package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionBrowse   Action = "browse"
	ActionSell     Action = "sell"
	ActionMessage  Action = "message"
	ActionModerate Action = "moderate"
)

// Can reports whether role may perform action. Ownership and chat
// participation are checked per resource by the caller, not here.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionBrowse || action == ActionSell || action == ActionMessage
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
