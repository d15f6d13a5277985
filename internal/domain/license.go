package domain

import "time"

// License is a project-level subscription pool limiting deployments.
type License struct {
	ID              string
	ProjectID       string
	MaxDeployments  int
	DeploymentsUsed int
	Active          bool
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// Usable reports whether the license is active and unexpired at ts.
func (l License) Usable(ts time.Time) bool {
	if !l.Active {
		return false
	}
	if l.ExpiresAt != nil && ts.After(*l.ExpiresAt) {
		return false
	}
	return true
}

// UserLicense is a per-user grant against a project license, carrying its own
// deployment counter for non-owner requesters.
type UserLicense struct {
	ID              string
	UserID          string
	LicenseID       string
	MaxDeployments  int
	DeploymentsUsed int
	Active          bool
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// Usable reports whether the grant is active and unexpired at ts.
func (ul UserLicense) Usable(ts time.Time) bool {
	if !ul.Active {
		return false
	}
	if ul.ExpiresAt != nil && ts.After(*ul.ExpiresAt) {
		return false
	}
	return true
}
