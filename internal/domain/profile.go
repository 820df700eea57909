package domain

import "time"

// Profile is the user-service view of an account. It shares the account id
// but is owned entirely by the user service; the auth service never writes it.
type Profile struct {
	UserID    string
	FirstName string
	LastName  string
	Avatar    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
