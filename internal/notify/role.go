// Package notify fans lifecycle events out to connected clients by role.
package notify

import (
	"fmt"
	"strings"

	"restaurant-orders/internal/models"
)

// Role is the audience a client subscribes as
type Role string

const (
	RoleKitchen Role = "kitchen"
	RoleWaiter  Role = "waiter"
	RoleOwner   Role = "owner"
	RolePublic  Role = "public"
)

// Roles lists every known role
var Roles = []Role{RoleKitchen, RoleWaiter, RoleOwner, RolePublic}

// ParseRole validates a role tag
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleKitchen, RoleWaiter, RoleOwner, RolePublic:
		return r, nil
	case "":
		return "", fmt.Errorf("role is required: %w", models.ErrInvalidArgument)
	default:
		return "", fmt.Errorf("unknown role %q: %w", s, models.ErrInvalidArgument)
	}
}
