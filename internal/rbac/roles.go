package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleParent      = "parent"
	RoleMediator    = "mediator"
	RoleSuperAdmin  = "super_admin"
	RoleCaseAuditor = "case_auditor" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleCaseAuditor }
