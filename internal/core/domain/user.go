package domain

const RoleAdmin = "admin"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanSee reports whether u may read an entity owned by ownerID.
func (u User) CanSee(ownerID string) bool {
	return u.IsAdmin() || (u.ID != "" && u.ID == ownerID)
}
