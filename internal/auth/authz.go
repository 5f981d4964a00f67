package auth

import (
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
)

// IsAdmin reports whether the identity holds the admin role.
func IsAdmin(id *Identity) bool {
	return id != nil && id.User.IsAdmin()
}

// CanEdit reports whether the identity may modify the account targetID:
// admins may edit anyone, everyone else only themselves.
func CanEdit(id *Identity, targetID int64) bool {
	if id == nil || id.User == nil {
		return false
	}
	return IsAdmin(id) || id.User.ID == targetID
}

// RequireAdmin returns a Forbidden error unless IsAdmin holds.
func RequireAdmin(id *Identity) error {
	if IsAdmin(id) {
		return nil
	}
	return forbidden(security.ReasonNotAdmin, id)
}

// RequireEditor returns a Forbidden error unless CanEdit holds.
func RequireEditor(id *Identity, targetID int64) error {
	if CanEdit(id, targetID) {
		return nil
	}
	return forbidden(security.ReasonNotOwner, id)
}

func forbidden(reason string, id *Identity) error {
	return security.New(security.KindForbidden, reason).WithUser(id.UserID()).WithPublic(httpx.MsgNotAuthorized)
}
