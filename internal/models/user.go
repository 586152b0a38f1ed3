package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a registered identity. Username is the display handle other users
// address messages to; it is set once during onboarding and never reassigned.
type User struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;default:null" json:"username"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate is a GORM hook that assigns a UUID when no ID is set.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// PublicUser is the profile shape exposed to other users.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Image    string `json:"image,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Image: u.Image}
}
