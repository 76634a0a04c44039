package service

import "inventory-service/internal/models"

// CanArchive reports whether role may archive or remove products.
func CanArchive(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleStaff
}

// CanManageUsers reports whether role may administer user records.
func CanManageUsers(role models.Role) bool {
	return role == models.RoleAdmin
}

// CanOperate reports whether role may change stock, the catalog or commit sales.
func CanOperate(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleStaff
}
