package auth

import "context"

// Role is the coarse caller role carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   Role
	// RestaurantID is the restaurant a staff member works at.
	RestaurantID string
}

// CurrentUserID returns the caller's user id.
func (p *Principal) CurrentUserID() string {
	if p == nil {
		return ""
	}
	return p.UserID
}

// HasRole reports whether the caller holds role.
func (p *Principal) HasRole(role Role) bool {
	return p != nil && p.Role == role
}

// IsAdmin reports whether the caller is an administrator.
func (p *Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }

// IsStaffOf reports whether the caller is staff of restaurantID.
func (p *Principal) IsStaffOf(restaurantID string) bool {
	return p.HasRole(RoleStaff) && restaurantID != "" && p.RestaurantID == restaurantID
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
