package types

import "strings"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleVendor Role = "VENDOR"
)

// ParseRole is case-insensitive; anything unrecognised is a vendor.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleVendor
}

// Caller is the verified identity handed in by the session layer.
type Caller struct {
	StaffID string
	Role    Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
