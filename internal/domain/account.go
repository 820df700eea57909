package domain

import "time"

// Role differentiates ordinary users from administrators.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account is the auth-service credential record. The auth service is the sole
// writer of PasswordHash; other services mutate it only through the command
// channel.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
