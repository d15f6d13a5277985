package domain

import "time"

// User is an account able to authenticate and request deployments.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}
