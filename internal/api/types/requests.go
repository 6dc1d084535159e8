package types

import "github.com/sbt-vault/engine/internal/services"

// RegisterRequest is the signup body. DeviceSignals are raw client
// attributes hashed into the device fingerprint.
type RegisterRequest struct {
	services.RegisterInput
	DeviceSignals map[string]string `json:"device_signals"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AssignRequest struct {
	UserID string `json:"user_id"`
}
