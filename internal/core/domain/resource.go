package domain

import (
	"strings"
	"time"
)

type ResourceKind string

const (
	// ResourceKindMedicine is consumed on dispense and never comes back.
	ResourceKindMedicine ResourceKind = "medicine"
	// ResourceKindTool is lent out and returned.
	ResourceKindTool ResourceKind = "tool"
)

func (k ResourceKind) Valid() bool {
	return k == ResourceKindMedicine || k == ResourceKindTool
}

// Returnable reports whether units of this kind go through the borrow/return cycle.
func (k ResourceKind) Returnable() bool {
	return k == ResourceKindTool
}

// Resource is an inventory item with a tracked on-hand quantity.
// Quantity is the only field subject to concurrent contention.
type Resource struct {
	ID         string
	Kind       ResourceKind
	Name       string
	Quantity   int
	Expiration *time.Time // medicine only
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the fields required to create a resource.
func (r Resource) Validate() error {
	if !r.Kind.Valid() {
		return Invalid("unknown resource kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Name) == "" {
		return Invalid("name is required")
	}
	if r.Quantity < 0 {
		return Invalid("quantity must be >= 0")
	}
	if r.Expiration != nil && r.Kind != ResourceKindMedicine {
		return Invalid("expiration only applies to medicine")
	}
	return nil
}

// ResourceUpdate carries the descriptive fields an operator may edit.
// Quantity is deliberately absent: it moves only through stock-in and reservations.
type ResourceUpdate struct {
	Name       *string
	Expiration *time.Time
}

func (u ResourceUpdate) Empty() bool {
	return u.Name == nil && u.Expiration == nil
}

type ResourceFilter struct {
	Kind ResourceKind
}
