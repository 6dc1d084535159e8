package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UnknownFingerprint is stored when a client supplied no device signals.
const UnknownFingerprint = "unknown_fingerprint"

// Profile is the per-user record behind an authenticated identity.
type Profile struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email             string         `gorm:"uniqueIndex;not null" json:"email" validate:"required,email"`
	PasswordHash      string         `gorm:"not null" json:"-"`
	FullName          string         `gorm:"not null" json:"full_name" validate:"required"`
	Username          string         `gorm:"index" json:"username"`
	AvatarURL         string         `json:"avatar_url"`
	Role              string         `gorm:"type:varchar(16);not null;default:user" json:"role" validate:"oneof=user admin"`
	NetworkAddress    string         `gorm:"index" json:"-"`
	DeviceFingerprint string         `gorm:"index" json:"-"`
	Country           string         `json:"country"`
	Metadata          datatypes.JSON `json:"metadata"`
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (p *Profile) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	return nil
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

// ProfileMetadata is the optional signup detail kept in Profile.Metadata.
type ProfileMetadata struct {
	Gender         string `json:"gender,omitempty"`
	Twitter        string `json:"twitter,omitempty"`
	IsSignBeliever bool   `json:"is_sign_believer"`
}
