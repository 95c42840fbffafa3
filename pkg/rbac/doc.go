// Package rbac provides role-based access control for the exam backend.
//
// # Overview
//
// A Permission is a named capability such as "read:list:users" or "create:tests".
// A Role owns a set of permissions through the app_roles_permissions join table.
// Every user holds at most one role.
//
// Permission names follow the pattern "<action>:<resource>" with the read action
// split into list and detail:
//
//	read:list:tests     list tests
//	read:detail:tests   view one test
//	create:tests        create a test
//	update:tests        modify a test
//	delete:tests        remove a test
//
// # Role Kinds
//
// Behavior that differs by audience (answer keys in test detail, answer
// ownership checks) branches on RoleKind, a closed enum resolved once from
// the role name when an identity is built:
//
//	switch identity.Role.Kind {
//	case rbac.RoleKindAdmin:
//		// include is_correct
//	default:
//		// redact
//	}
//
// The zero value RoleKindOther never grants extra visibility.
//
// # Stores
//
// PermissionStore and RoleStore wrap database/sql. Role create and update run
// their permission link writes in one transaction. PermissionResolver keeps a
// short-lived LRU of role permission names used at login and token refresh.
//
// # Invalidation
//
// Per-request checks read the identity cached at login, not these stores.
// Role and permission mutations call IdentityInvalidator so holders of the
// affected role must log in again and receive the new permission set.
//
// # HTTP
//
// Handlers.RegisterRoutes mounts:
//
//	GET    /permissions                   read:list:permissions
//	POST   /permissions/create            create:permissions
//	GET    /permissions/detail/{id}       read:detail:permissions
//	PUT    /permissions/update/{id}       update:permissions
//	DELETE /permissions/delete/{id}       delete:permissions
//	GET    /roles                         read:list:roles
//	POST   /roles/create                  create:roles
//	GET    /roles/detail/{id}             read:detail:roles
//	PUT    /roles/update/{id}             update:roles
//	DELETE /roles/delete/{id}             delete:roles
package rbac
