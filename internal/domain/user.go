package domain

import "time"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// User is the identity reference leases point at.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// UserStats counts users by role.
type UserStats struct {
	Total  int64
	Admins int64
}

// Actor identifies who triggered a change.
type Actor struct {
	ID       int64
	Username string
}
