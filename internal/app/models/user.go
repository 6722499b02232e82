package models

import "time"

// RoleType represents the role of a user on the platform
type RoleType string

const (
	RoleStudent RoleType = "STUDENT"
	RoleMentor  RoleType = "MENTOR"
	RoleAdmin   RoleType = "ADMIN"
)

// User is the local projection of an identity issued by the external auth
// provider. Only the fields needed to render a chat participant are kept.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FullName  string    `json:"fullName" db:"full_name"`
	RoleType  RoleType  `json:"roleType" db:"role_type"`
	AvatarURL *string   `json:"avatarUrl,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
