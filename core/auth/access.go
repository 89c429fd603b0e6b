package auth

import "EchoMark/model"

// Access is the result of an ownership check on a resource.
type Access int

const (
	AccessDenied Access = iota
	AccessOwner
	AccessAdmin
)

// CanAccess is the single authorization predicate for user-owned
// resources (edit, delete, download, detail). Every handler routes
// ownership decisions through here instead of repeating the comparison.
func CanAccess(ownerID int64, user *model.User) Access {
	if user == nil {
		return AccessDenied
	}
	if user.ID == ownerID {
		return AccessOwner
	}
	if user.IsAdmin() {
		return AccessAdmin
	}
	return AccessDenied
}

// Allowed reports whether the access grants any kind of access.
func (a Access) Allowed() bool {
	return a != AccessDenied
}
