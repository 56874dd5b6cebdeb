package model

import "strings"

// Role identifies which party is looking at orders.
type Role string

// Known roles.
const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleShipper  Role = "shipper"
	RoleAdmin    Role = "admin"
)

// Roles lists every role.
var Roles = []Role{RoleCustomer, RoleMerchant, RoleShipper, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleMerchant, RoleShipper, RoleAdmin:
		return true
	}
	return false
}

// Header is the request header carrying the actor id of this role.
func (r Role) Header() string {
	switch r {
	case RoleCustomer:
		return "X-Customer-ID"
	case RoleMerchant:
		return "X-Merchant-ID"
	case RoleShipper:
		return "X-Shipper-ID"
	case RoleAdmin:
		return "X-Admin-ID"
	}
	return ""
}

// ParseRole accepts a case-insensitive role name.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}
