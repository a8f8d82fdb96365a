package domain

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleBHW    Role = "bhw"
	RolePublic Role = "public"
)

type Permission string

const (
	PermInventoryCreate Permission = "inventory:create"
	PermInventoryEdit   Permission = "inventory:edit"
	PermInventoryDelete Permission = "inventory:delete"
	PermInventoryAvail  Permission = "inventory:avail"
	PermInventoryView   Permission = "inventory:view"
	PermReportsView     Permission = "reports:view"
)

var permissions = map[Permission][]Role{
	PermInventoryCreate: {RoleAdmin},
	PermInventoryEdit:   {RoleAdmin},
	PermInventoryDelete: {RoleAdmin},
	PermInventoryAvail:  {RoleAdmin, RoleBHW},
	PermInventoryView:   {RoleAdmin, RoleBHW},
	PermReportsView:     {RoleAdmin},
}

func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleAdmin, RoleBHW, RolePublic:
		return r, true
	}
	return "", false
}

func (r Role) Can(p Permission) bool {
	for _, allowed := range permissions[p] {
		if allowed == r {
			return true
		}
	}
	return false
}

type roleKey struct{}

// WithRole attaches the caller's role to ctx. Authentication happens upstream.
func WithRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, roleKey{}, r)
}

func RoleFromContext(ctx context.Context) (Role, bool) {
	r, ok := ctx.Value(roleKey{}).(Role)
	return r, ok
}

// Authorize fails with ErrForbidden unless the role in ctx holds p.
func Authorize(ctx context.Context, p Permission) error {
	r, ok := RoleFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no role", ErrForbidden)
	}
	if !r.Can(p) {
		return fmt.Errorf("%w: role %s lacks %s", ErrForbidden, r, p)
	}
	return nil
}
