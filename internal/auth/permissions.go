package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermZoneRead      Permission = "zone:read"
	PermZoneOperate   Permission = "zone:operate"
	PermEnforceRead   Permission = "enforce:read"
	PermEnforceManage Permission = "enforce:manage"
	PermConfigReload  Permission = "config:reload"
	PermAuditRead     Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermZoneRead,
		PermEnforceRead,
	},
	RoleOperator: {
		PermZoneRead,
		PermZoneOperate,
		PermEnforceRead,
		PermEnforceManage,
	},
	RoleAdmin: {
		PermZoneRead,
		PermZoneOperate,
		PermEnforceRead,
		PermEnforceManage,
		PermConfigReload,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
