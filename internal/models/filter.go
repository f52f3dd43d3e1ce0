package models

// FilterRule is a user-scoped regex rule deciding stream survival during a
// fetch. Include rules take precedence: when any exist for the user, a
// stream must match at least one to survive.
type FilterRule struct {
	ID      int64  `json:"id,omitempty"`
	UserID  int64  `json:"user_id"`
	Type    int16  `json:"type"`
	Pattern string `json:"pattern"`
}
