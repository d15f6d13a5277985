package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.LicenseRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, is_admin, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, is_admin, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetProjectByID returns a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, created_at FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetConfigurationByID returns a project configuration with its credential
// pool and declared variables.
func (r *Repository) GetConfigurationByID(ctx context.Context, configurationID string) (*domain.Configuration, error) {
	const query = `SELECT id, project_id, name, github_accounts, environment_variables, site_id, created_at, updated_at
		FROM configurations WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, configurationID)
	var (
		c            domain.Configuration
		accountsJSON []byte
		varsJSON     []byte
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &accountsJSON, &varsJSON, &c.SiteID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(accountsJSON) > 0 {
		if err := json.Unmarshal(accountsJSON, &c.GithubAccounts); err != nil {
			return nil, err
		}
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &c.EnvironmentVars); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// GetLicenseByID returns a license by identifier.
func (r *Repository) GetLicenseByID(ctx context.Context, licenseID string) (*domain.License, error) {
	const query = `SELECT id, project_id, max_deployments, deployments_used, active, expires_at, created_at
		FROM licenses WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, licenseID)
	var l domain.License
	if err := row.Scan(&l.ID, &l.ProjectID, &l.MaxDeployments, &l.DeploymentsUsed, &l.Active, &l.ExpiresAt, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// GetUserLicense returns the per-user grant for a license.
func (r *Repository) GetUserLicense(ctx context.Context, userID, licenseID string) (*domain.UserLicense, error) {
	const query = `SELECT id, user_id, license_id, max_deployments, deployments_used, active, expires_at, created_at
		FROM user_licenses WHERE user_id = $1 AND license_id = $2`
	row := r.pool.QueryRow(ctx, query, userID, licenseID)
	var ul domain.UserLicense
	if err := row.Scan(&ul.ID, &ul.UserID, &ul.LicenseID, &ul.MaxDeployments, &ul.DeploymentsUsed, &ul.Active, &ul.ExpiresAt, &ul.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &ul, nil
}

// IncrementLicenseUsage consumes one deployment from the subscription pool.
func (r *Repository) IncrementLicenseUsage(ctx context.Context, licenseID string) error {
	const query = `UPDATE licenses SET deployments_used = deployments_used + 1 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, licenseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IncrementUserLicenseUsage consumes one deployment from a per-user grant.
func (r *Repository) IncrementUserLicenseUsage(ctx context.Context, userLicenseID string) error {
	const query = `UPDATE user_licenses SET deployments_used = deployments_used + 1 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userLicenseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
