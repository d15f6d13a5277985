package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nebur242/deploy-hub/internal/repository"
)

const webhookBodyLimit = 1 << 20 // 1 MiB

type workflowRunPayload struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
}

// handleGithubWebhook ingests workflow_run callbacks. Signature verification
// happens before any parsing; unverifiable requests are rejected without
// detail. Runs we do not track are acknowledged so the provider stops
// redelivering.
func (r *Router) handleGithubWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, webhookBodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !r.verifySignature(body, req.Header.Get("X-Hub-Signature-256")) {
		r.logger.Warn("webhook signature rejected", "remote", clientIP(req))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if event := req.Header.Get("X-GitHub-Event"); event != "" && event != "workflow_run" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	var payload workflowRunPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.WorkflowRun.ID == 0 {
		writeError(w, http.StatusBadRequest, "missing workflow_run.id")
		return
	}

	deployment, err := r.deploy.FindByRunID(req.Context(), payload.WorkflowRun.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "unknown run"})
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if deployment.Status.Terminal() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already settled"})
		return
	}
	if payload.Action != "completed" && payload.WorkflowRun.Status != "completed" {
		// In-progress notifications confirm liveness but carry nothing
		// the tracker does not already observe.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "in progress"})
		return
	}

	// Re-read the run from the provider rather than trusting the payload:
	// the poll path owns conclusion interpretation and URL extraction.
	state, err := r.deploy.CheckRun(req.Context(), deployment)
	if err != nil {
		r.logger.Warn("webhook run check failed", "deployment_id", deployment.ID, "run_id", payload.WorkflowRun.ID, "error", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "check deferred"})
		return
	}
	if !state.Finished() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "not finished"})
		return
	}
	if err := r.deploy.ApplyRunState(req.Context(), deployment, state); err != nil {
		writeError(w, http.StatusInternalServerError, "state update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "deployment_id": deployment.ID})
}

func (r *Router) verifySignature(body []byte, header string) bool {
	if r.webhookSecret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(r.webhookSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
