package models

import (
	"time"
)

type Team struct {
	Base
	Name         string        `gorm:"not null" json:"name" validate:"required,min=2"`
	Users        []User        `gorm:"foreignKey:TeamID;references:ID" json:"users,omitempty"`
	Subscription *Subscription `gorm:"foreignKey:TeamID;references:ID" json:"subscription,omitempty"`
}

type User struct {
	Base
	Email     string   `gorm:"uniqueIndex;not null" json:"email"`
	Password  string   `gorm:"not null" json:"-"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Role      UserRole `gorm:"not null;default:'MEMBER'" json:"role"`
	TeamID    string   `gorm:"type:uuid;not null;index" json:"teamId"`
	Team      *Team    `json:"team,omitempty"`
}

// RefreshToken stores only the hash of the token handed to the client.
// Tokens are single use; refreshing revokes the presented one.
type RefreshToken struct {
	Base
	UserID    string     `gorm:"type:uuid;not null;index" json:"userId"`
	User      *User      `json:"user,omitempty"`
	TokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	IPAddress string     `json:"ipAddress"`
	UserAgent string     `json:"userAgent"`
}

func (r *RefreshToken) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// IsValidUserRole checks if a given role is valid
func IsValidUserRole(role UserRole) bool {
	switch role {
	case UserRoleOwner, UserRoleAdmin, UserRoleMember:
		return true
	default:
		return false
	}
}

// RoleRank orders roles so middleware can require "at least" a role.
func RoleRank(role UserRole) int {
	switch role {
	case UserRoleOwner:
		return 3
	case UserRoleAdmin:
		return 2
	case UserRoleMember:
		return 1
	}
	return 0
}
