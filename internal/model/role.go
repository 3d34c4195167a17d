package model

// Role is a team member's privilege level. Roles are totally ordered.
type Role string

const (
	RoleOwner          Role = "owner"
	RoleContentManager Role = "content_manager"
	RoleModerator      Role = "moderator"
	RoleViewer         Role = "viewer"
)

// Roles lists every role, highest privilege first.
var Roles = []Role{RoleOwner, RoleContentManager, RoleModerator, RoleViewer}

// LowestRole is the role excluded from operational detail such as logs.
const LowestRole = RoleViewer

var roleRank = map[Role]int{
	RoleOwner:          4,
	RoleContentManager: 3,
	RoleModerator:      2,
	RoleViewer:         1,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the privilege rank of r. Unknown roles rank 0.
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r carries at least the privilege of min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

func (r Role) String() string {
	return string(r)
}
