package model

// CanInteract reports whether an actor with the given role may respond to a
// resource of type t. Affected people request offers; helpers answer needs.
func CanInteract(role Role, t ResourceType) bool {
	switch {
	case role == RoleVictim:
		return t == ResourceOffer
	case role.IsResponder():
		return t == ResourceNeed
	default:
		return false
	}
}
