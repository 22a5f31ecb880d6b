package domain

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Actor is the already-authenticated identity attributed to every mutating
// operation. Authentication itself happens upstream.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

func (a Actor) CanAccessOrder(o *Order) bool {
	return a.IsAdmin() || o.UserID == a.UserID
}
