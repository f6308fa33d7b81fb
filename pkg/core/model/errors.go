package model

import "errors"

var (
	ErrUnauthenticated  = errors.New("not signed in")
	ErrRoleNotAllowed   = errors.New("role cannot act on this resource type")
	ErrAlreadyAddressed = errors.New("resource is already being addressed")
	ErrConflict         = errors.New("resource is no longer open")
	ErrNotFound         = errors.New("resource not found")
	ErrResponseNotFound = errors.New("response not found")
	ErrDuplicateIgnored = errors.New("response already recorded")
	ErrResourceClosed   = errors.New("resource is closed")
	ErrNotOwner         = errors.New("only the author can change this resource")
	ErrIDCollision      = errors.New("resource id already exists")
)

// IsSomeoneElseHelping reports whether err means another responder got there
// first, as opposed to an outright failure.
func IsSomeoneElseHelping(err error) bool {
	return errors.Is(err, ErrAlreadyAddressed) || errors.Is(err, ErrConflict)
}
