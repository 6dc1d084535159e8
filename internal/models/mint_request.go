package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MintStatusPending  = "pending"
	MintStatusVerified = "verified"
	MintStatusApproved = "approved"
	MintStatusRejected = "rejected"
)

// ActiveMintStatuses are the states that block a new submission.
var ActiveMintStatuses = []string{MintStatusPending, MintStatusVerified}

// MintCountdown is the advisory window shown to a requester after submitting.
const MintCountdown = 15 * time.Minute

// MintRequest is a user's application for an artifact, backed by a payment proof.
type MintRequest struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	PlatformUsername string    `gorm:"not null" json:"platform_username" validate:"required"`
	PaymentProofURL  string    `gorm:"not null" json:"payment_proof_url"`
	PaymentProofRef  string    `json:"payment_proof_ref"`
	Status           string    `gorm:"type:varchar(16);index;not null;default:pending" json:"status"`
	ArtifactID       *int      `gorm:"column:sbt_id" json:"sbt_id"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsActive reports whether the request still blocks a new submission.
func (m *MintRequest) IsActive() bool {
	return m.Status == MintStatusPending || m.Status == MintStatusVerified
}

// CountdownEndsAt is advisory only; requests never expire.
func (m *MintRequest) CountdownEndsAt() time.Time {
	return m.CreatedAt.Add(MintCountdown)
}
