package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ArtifactAvailable = "available"
	ArtifactMinted    = "minted"
)

// Artifact is one numbered SBT from the fixed pool.
type Artifact struct {
	ID        int        `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string     `gorm:"not null;index" json:"name"`
	Rarity    string     `gorm:"type:varchar(16);not null" json:"rarity"`
	ImageURL  string     `json:"image_url"`
	Status    string     `gorm:"type:varchar(16);index;not null;default:available" json:"status"`
	OwnerID   *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"owner_id"`
	MintedAt  *time.Time `json:"minted_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Artifact) TableName() string { return "sbts" }
