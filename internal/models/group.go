package models

// Group represents a circle of users who raise and fund money requests
// together.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Name is the display name of the group (e.g., "Roommates", "Family").
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// CreatedBy is the user ID of the creator, who is always a member.
	CreatedBy string `json:"createdBy"`

	// Members are the users in the group, in join order.
	Members []GroupMember `json:"members"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `json:"createdAt"`
}

// GroupMember is one user's membership in a group.
type GroupMember struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	JoinedAt int64  `json:"joinedAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
