package models

// UserDetail is resolved on demand from the identity provider; it is never
// persisted.
type UserDetail struct {
	UserID            string `json:"user_id"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}
