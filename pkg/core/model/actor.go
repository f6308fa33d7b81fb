package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleNone       Role = ""
	RoleVictim     Role = "victim"
	RoleVolunteer  Role = "volunteer"
	RoleNGO        Role = "ngo"
	RoleGovernment Role = "government"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleVictim, RoleVolunteer, RoleNGO, RoleGovernment:
		return true
	}
	return false
}

// IsResponder reports whether the role responds to needs
func (r Role) IsResponder() bool {
	return r == RoleVolunteer || r == RoleNGO || r == RoleGovernment
}

// ParseRole parses a role name, case-insensitively
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return RoleNone, fmt.Errorf("unknown role %q (expected victim, volunteer, ngo or government)", s)
	}
	return r, nil
}

// Actor identifies who is making a call. The zero Actor is unauthenticated.
type Actor struct {
	ID   string
	Role Role
	Name string
}

func (a Actor) IsAuthenticated() bool {
	return a.ID != "" && a.Role.IsValid()
}

// DisplayName falls back to the id when no name is known
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return "User"
}
