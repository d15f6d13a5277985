package domain

import "time"

// Project describes a deployable unit.
type Project struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// GithubAccount is one provider credential owned by a project configuration.
// AccessToken is stored encrypted at rest.
type GithubAccount struct {
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	Repository   string `json:"repository"`
	WorkflowFile string `json:"workflow_file"`
}

// Configuration bundles the credentials and declared variables a deployment
// is dispatched with. The orchestration core treats the account list as
// read-only input.
type Configuration struct {
	ID              string
	ProjectID       string
	Name            string
	GithubAccounts  []GithubAccount
	EnvironmentVars []EnvironmentVariable
	SiteID          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
