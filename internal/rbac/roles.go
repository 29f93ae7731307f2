package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner           = "owner"
	RoleAgent           = "agent"
	RoleSupervisor      = "supervisor"
	RoleSuperAdmin      = "super_admin"
	RoleNetworkOperator = "network_operator" // hidden role
)

// PhoneRoles may hold a softphone.
var PhoneRoles = []string{RoleAgent, RoleOwner}

// HistoryRoles may read a workspace's call journal.
var HistoryRoles = []string{RoleAgent, RoleOwner, RoleSupervisor}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
