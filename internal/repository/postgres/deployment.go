package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/repository"
)

const deploymentColumns = `id, user_id, project_id, configuration_id, license_id, user_license_id,
	environment, branch, status, workflow_run_id, site_id, deployment_url,
	environment_variables, github_account, error_message, retry_count, webhook,
	is_test, created_at, updated_at, completed_at`

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	varsJSON, err := json.Marshal(d.EnvironmentVars)
	if err != nil {
		return err
	}
	accountJSON, err := marshalNullable(d.GithubAccount)
	if err != nil {
		return err
	}
	webhookJSON, err := marshalNullable(d.Webhook)
	if err != nil {
		return err
	}
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err = r.pool.Exec(ctx, query,
		d.ID, d.UserID, d.ProjectID, d.ConfigurationID, d.LicenseID, d.UserLicenseID,
		d.Environment, d.Branch, d.Status, d.WorkflowRunID, d.SiteID, d.DeploymentURL,
		varsJSON, accountJSON, d.ErrorMessage, d.RetryCount, webhookJSON,
		d.IsTest, d.CreatedAt, d.UpdatedAt, d.CompletedAt)
	return err
}

// GetDeploymentByID fetches one deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// GetDeploymentByRunID fetches the deployment correlated to a provider run.
func (r *Repository) GetDeploymentByRunID(ctx context.Context, runID int64) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE workflow_run_id = $1
		ORDER BY created_at DESC LIMIT 1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, runID))
}

// UpdateDeploymentStatus applies a status transition, touching only the
// fields the update carries.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	sets := []string{"status = $2", "updated_at = $3"}
	args := []any{update.DeploymentID, update.Status, time.Now().UTC()}

	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	add("error_message = $%d", update.ErrorMessage)
	if update.WorkflowRunID != nil {
		add("workflow_run_id = $%d", *update.WorkflowRunID)
	}
	if update.GithubAccount != nil {
		accountJSON, err := json.Marshal(update.GithubAccount)
		if err != nil {
			return err
		}
		add("github_account = $%d", accountJSON)
	}
	if update.DeploymentURL != nil {
		add("deployment_url = $%d", *update.DeploymentURL)
	}
	if update.Webhook != nil {
		webhookJSON, err := json.Marshal(update.Webhook)
		if err != nil {
			return err
		}
		add("webhook = $%d", webhookJSON)
	} else if update.ClearWebhook {
		sets = append(sets, "webhook = NULL")
	}
	if update.RetryCount != nil {
		add("retry_count = $%d", *update.RetryCount)
	}
	if update.CompletedAt != nil {
		add("completed_at = $%d", *update.CompletedAt)
	}

	query := fmt.Sprintf(`UPDATE deployments SET %s WHERE id = $1`, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActiveDeployments returns PENDING/RUNNING deployments for one
// (owner, project, environment) key. This query backs the lock manager's
// cross-instance conflict check.
func (r *Repository) ListActiveDeployments(ctx context.Context, userID, projectID string, env domain.Environment, excludeID string) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE user_id = $1 AND project_id = $2 AND environment = $3
		AND status IN ('pending', 'running') AND ($4 = '' OR id <> $4)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID, projectID, env, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectDeployments(rows)
}

// ListRecentDeployments returns the newest deployments for a configuration.
func (r *Repository) ListRecentDeployments(ctx context.Context, configurationID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE configuration_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, configurationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectDeployments(rows)
}

// ListDeploymentsByProject returns recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectDeployments(rows)
}

// ListDeploymentsWithStatus returns every deployment currently in status.
func (r *Repository) ListDeploymentsWithStatus(ctx context.Context, status domain.DeploymentStatus) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE status = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectDeployments(rows)
}

// ListDeploymentsWithStatusUpdatedBefore returns deployments in status whose
// last update predates the cutoff. The tracker uses it to time out stale work.
func (r *Repository) ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, status domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`
	rows, err := r.pool.Query(ctx, query, status, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectDeployments(rows)
}

func (r *Repository) collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		d, err := r.scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var (
		d           domain.Deployment
		varsJSON    []byte
		accountJSON []byte
		webhookJSON []byte
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.ProjectID, &d.ConfigurationID, &d.LicenseID, &d.UserLicenseID,
		&d.Environment, &d.Branch, &d.Status, &d.WorkflowRunID, &d.SiteID, &d.DeploymentURL,
		&varsJSON, &accountJSON, &d.ErrorMessage, &d.RetryCount, &webhookJSON,
		&d.IsTest, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &d.EnvironmentVars); err != nil {
			return nil, err
		}
	}
	if len(accountJSON) > 0 {
		if err := json.Unmarshal(accountJSON, &d.GithubAccount); err != nil {
			return nil, err
		}
	}
	if len(webhookJSON) > 0 {
		if err := json.Unmarshal(webhookJSON, &d.Webhook); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *domain.AccountSnapshot:
		if value == nil {
			return nil, nil
		}
	case *domain.WebhookRef:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
