package auth

import "slices"

// Permission is a named capability checked by the HTTP layer.
type Permission string

// Permission constants. Catalogue and callback permissions belong to the
// device-control service.
const (
	PermDeviceManage   Permission = "device:manage"
	PermDeviceOperate  Permission = "device:operate"
	PermSettingsManage Permission = "settings:manage"
	PermPushSubscribe  Permission = "push:subscribe"
	PermCatalogueRead  Permission = "catalogue:read"
	PermCallbackPost   Permission = "callback:post"
	PermStatusWatchAll Permission = "status:watch_all"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions is the single source of truth for authorisation.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermDeviceManage,
		PermDeviceOperate,
		PermSettingsManage,
		PermPushSubscribe,
	},
	RoleAdmin: {
		PermDeviceManage,
		PermDeviceOperate,
		PermSettingsManage,
		PermPushSubscribe,
		PermStatusWatchAll,
		PermAuditRead,
	},
	RoleService: {
		PermCatalogueRead,
		PermCallbackPost,
		PermStatusWatchAll,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role,
// or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// CanWatchChannel reports whether an account with role and username self
// may subscribe to the live status channel of username.
func CanWatchChannel(role Role, self, username string) bool {
	return username == self || HasPermission(role, PermStatusWatchAll)
}
