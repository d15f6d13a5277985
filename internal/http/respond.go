package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/service/deploy"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps orchestration errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	if svcErr, ok := deploy.AsError(err); ok {
		status := http.StatusInternalServerError
		switch svcErr.Kind {
		case deploy.KindValidation:
			status = http.StatusBadRequest
		case deploy.KindQuota:
			status = http.StatusForbidden
		case deploy.KindConflict:
			status = http.StatusConflict
		case deploy.KindNotFound:
			status = http.StatusNotFound
		case deploy.KindForbidden:
			status = http.StatusForbidden
		case deploy.KindDispatch:
			status = http.StatusBadGateway
		}
		payload := map[string]string{"error": svcErr.Message, "kind": string(svcErr.Kind)}
		if svcErr.BlockingID != "" {
			payload["blocking_deployment_id"] = svcErr.BlockingID
		}
		writeJSON(w, status, payload)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// deploymentView is the API shape of a deployment. Credential snapshots are
// reduced to the account username; tokens never leave the service.
func deploymentView(d *domain.Deployment) map[string]any {
	view := map[string]any{
		"id":               d.ID,
		"user_id":          d.UserID,
		"project_id":       d.ProjectID,
		"configuration_id": d.ConfigurationID,
		"environment":      string(d.Environment),
		"branch":           d.Branch,
		"status":           string(d.Status),
		"site_id":          d.SiteID,
		"retry_count":      d.RetryCount,
		"is_test":          d.IsTest,
		"created_at":       d.CreatedAt,
		"updated_at":       d.UpdatedAt,
	}
	if d.WorkflowRunID != nil {
		view["workflow_run_id"] = *d.WorkflowRunID
	}
	if d.DeploymentURL != nil {
		view["deployment_url"] = *d.DeploymentURL
	}
	if d.GithubAccount != nil {
		view["github_account"] = d.GithubAccount.Username
	}
	if d.ErrorMessage != "" {
		view["error_message"] = d.ErrorMessage
	}
	if d.CompletedAt != nil {
		view["completed_at"] = *d.CompletedAt
	}
	return view
}
