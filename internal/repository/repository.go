package repository

import (
	"context"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository supplies project and configuration lookups. The
// orchestration core reads through it and never writes.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetConfigurationByID(ctx context.Context, configurationID string) (*domain.Configuration, error)
}

// LicenseRepository supplies license lookups and quota counters.
type LicenseRepository interface {
	GetLicenseByID(ctx context.Context, licenseID string) (*domain.License, error)
	GetUserLicense(ctx context.Context, userID, licenseID string) (*domain.UserLicense, error)
	IncrementLicenseUsage(ctx context.Context, licenseID string) error
	IncrementUserLicenseUsage(ctx context.Context, userLicenseID string) error
}

// DeploymentRepository stores deployment history and is the single source of
// truth for deployment state.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	GetDeploymentByRunID(ctx context.Context, runID int64) (*domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	// ListActiveDeployments returns PENDING/RUNNING deployments for the
	// (owner, project, environment) key, excluding excludeID when non-empty.
	ListActiveDeployments(ctx context.Context, userID, projectID string, env domain.Environment, excludeID string) ([]domain.Deployment, error)
	// ListRecentDeployments returns the newest deployments for a
	// configuration, most recent first.
	ListRecentDeployments(ctx context.Context, configurationID string, limit int) ([]domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	ListDeploymentsWithStatus(ctx context.Context, status domain.DeploymentStatus) ([]domain.Deployment, error)
	ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error)
}
