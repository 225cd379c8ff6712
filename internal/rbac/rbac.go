package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionReview Action = "review"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionWrite || action == ActionReview
	case RoleContributor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Strongest picks the most privileged role from a list, falling back
// to the given default when the list is empty. Used to resolve a role
// from identity-provider group mappings.
func Strongest(roles []string, fallback Role) Role {
	rank := map[Role]int{
		RoleViewer:      0,
		RoleContributor: 1,
		RoleReviewer:    2,
		RoleAdmin:       3,
	}
	best := fallback
	for _, raw := range roles {
		role := Normalize(raw)
		if rank[role] > rank[best] {
			best = role
		}
	}
	return best
}
