package domain

import "time"

// DeploymentStatus enumerates the lifecycle states of a deployment.
type DeploymentStatus string

const (
	StatusPending  DeploymentStatus = "pending"
	StatusRunning  DeploymentStatus = "running"
	StatusSuccess  DeploymentStatus = "success"
	StatusFailed   DeploymentStatus = "failed"
	StatusCanceled DeploymentStatus = "canceled"
)

// Active reports whether the status still holds the owner's slot.
func (s DeploymentStatus) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether the deployment can no longer change on its own.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// Environment enumerates deployment targets.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvPreview    Environment = "preview"
)

// Valid reports whether the environment is one of the known targets.
func (e Environment) Valid() bool {
	return e == EnvProduction || e == EnvPreview
}

// EnvironmentVariable describes one declared variable of a deployment.
// Field tags match the persisted wire shape consumed by existing clients.
type EnvironmentVariable struct {
	Key          string `json:"key"`
	DefaultValue string `json:"default_value"`
	Description  string `json:"description"`
	IsRequired   bool   `json:"is_required"`
	IsSecret     bool   `json:"is_secret"`
	Type         string `json:"type"`
}

// AccountSnapshot is the credential copy captured at dispatch time so later
// polling does not depend on mutable project configuration. AccessToken is
// stored encrypted.
type AccountSnapshot struct {
	Username     string `json:"username"`
	AccessToken  string `json:"access_token"`
	Repository   string `json:"repository"`
	WorkflowFile string `json:"workflow_file"`
}

// WebhookRef records a provider-side callback subscription held by a deployment.
type WebhookRef struct {
	HookID int64  `json:"hook_id"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// Deployment captures a single attempt to ship a project configuration
// through the provider.
//
// Invariant: WorkflowRunID and GithubAccount are both set or both unset,
// with one relaxation: a failed dispatch stores the attempted credential in
// GithubAccount while WorkflowRunID stays nil, so a retry can rotate past
// the account that just failed.
type Deployment struct {
	ID              string
	UserID          string
	ProjectID       string
	ConfigurationID string
	LicenseID       string
	UserLicenseID   *string
	Environment     Environment
	Branch          string
	Status          DeploymentStatus
	WorkflowRunID   *int64
	SiteID          string
	DeploymentURL   *string
	EnvironmentVars []EnvironmentVariable
	GithubAccount   *AccountSnapshot
	ErrorMessage    string
	RetryCount      int
	Webhook         *WebhookRef
	IsTest          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// DeploymentStatusUpdate carries the mutable fields of a status transition.
type DeploymentStatusUpdate struct {
	DeploymentID  string
	Status        DeploymentStatus
	ErrorMessage  string
	WorkflowRunID *int64
	GithubAccount *AccountSnapshot
	DeploymentURL *string
	Webhook       *WebhookRef
	ClearWebhook  bool
	RetryCount    *int
	CompletedAt   *time.Time
}
