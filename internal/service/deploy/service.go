// Package deploy orchestrates the deployment lifecycle: validation, quota,
// locking, credential rotation, provider dispatch and the shared
// status-update path driven by both the poller and inbound webhooks.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/event"
	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/internal/repository"
	"github.com/nebur242/deploy-hub/internal/service/lock"
	"github.com/nebur242/deploy-hub/internal/service/quota"
	"github.com/nebur242/deploy-hub/internal/service/rotation"
	"github.com/nebur242/deploy-hub/pkg/crypto"
)

const recentHistoryDepth = 10

var validate = validator.New()

// Broadcaster pushes live status updates to streaming clients.
type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

// Service is the deployment orchestrator.
type Service struct {
	deployments repository.DeploymentRepository
	projects    repository.ProjectRepository
	licenses    repository.LicenseRepository
	quota       *quota.Service
	locks       *lock.Manager
	dispatcher  provider.Dispatcher
	hooks       provider.HookManager
	cipher      crypto.Cipher
	bus         *event.Bus
	stream      Broadcaster
	logger      *slog.Logger
	lockTTL     time.Duration

	now func() time.Time
}

// New constructs the orchestrator.
func New(
	deployments repository.DeploymentRepository,
	projects repository.ProjectRepository,
	licenses repository.LicenseRepository,
	quotaSvc *quota.Service,
	locks *lock.Manager,
	dispatcher provider.Dispatcher,
	hooks provider.HookManager,
	cipher crypto.Cipher,
	bus *event.Bus,
	stream Broadcaster,
	logger *slog.Logger,
	lockTTL time.Duration,
) *Service {
	if lockTTL <= 0 {
		lockTTL = lock.DefaultTTL
	}
	return &Service{
		deployments: deployments,
		projects:    projects,
		licenses:    licenses,
		quota:       quotaSvc,
		locks:       locks,
		dispatcher:  dispatcher,
		hooks:       hooks,
		cipher:      cipher,
		bus:         bus,
		stream:      stream,
		logger:      logger.With("component", "deploy"),
		lockTTL:     lockTTL,
		now:         time.Now,
	}
}

// CreateRequest carries a deployment request.
type CreateRequest struct {
	ProjectID       string                       `json:"project_id" validate:"required"`
	ConfigurationID string                       `json:"configuration_id" validate:"required"`
	LicenseID       string                       `json:"license_id" validate:"required"`
	Environment     domain.Environment           `json:"environment" validate:"required,oneof=production preview"`
	Branch          string                       `json:"branch" validate:"required"`
	EnvironmentVars []domain.EnvironmentVariable `json:"environment_variables"`
	IsTest          bool                         `json:"is_test"`
}

// Create validates the request, enforces quota and mutual exclusion,
// persists the PENDING record and dispatches it. The correlation step blocks
// until the provider run is identified or retries are exhausted.
func (s *Service) Create(ctx context.Context, req CreateRequest, user *domain.User) (*domain.Deployment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, validationError("invalid request: %v", err)
	}

	project, err := s.projects.GetProjectByID(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("project")
		}
		return nil, err
	}
	cfg, err := s.projects.GetConfigurationByID(ctx, req.ConfigurationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("configuration")
		}
		return nil, err
	}
	if cfg.ProjectID != project.ID {
		return nil, validationError("configuration %s does not belong to project %s", cfg.ID, project.ID)
	}
	if len(cfg.GithubAccounts) == 0 {
		return nil, validationError("configuration %s has no provider accounts", cfg.ID)
	}
	if err := checkRequiredVars(cfg.EnvironmentVars, req.EnvironmentVars); err != nil {
		return nil, err
	}

	var userLicenseID *string
	if !req.IsTest {
		license, err := s.licenses.GetLicenseByID(ctx, req.LicenseID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, notFoundError("license")
			}
			return nil, err
		}
		grantID, err := s.quota.Check(ctx, license, user.ID, project.OwnerID)
		if err != nil {
			if errors.Is(err, quota.ErrExceeded) || errors.Is(err, quota.ErrNoLicense) {
				return nil, quotaError(err)
			}
			return nil, err
		}
		if grantID != "" {
			userLicenseID = &grantID
		}
	}

	// Same-owner conflict check. Cheap early exit; the lock acquisition
	// below is what actually serializes concurrent requests.
	active, err := s.deployments.ListActiveDeployments(ctx, user.ID, project.ID, req.Environment, "")
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, conflictError(active[0].ID)
	}

	// The lock must be held before the PENDING record exists, so that of N
	// concurrent requests for one slot exactly one persists anything: the
	// in-memory map serializes same-process racers and the store backstop
	// covers other instances.
	deploymentID := uuid.NewString()
	key := lock.Key{OwnerID: user.ID, ProjectID: project.ID, Environment: req.Environment}
	granted, err := s.locks.Acquire(ctx, key, deploymentID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !granted.Acquired {
		return nil, conflictError(granted.HeldBy)
	}

	now := s.now().UTC()
	deployment := &domain.Deployment{
		ID:              deploymentID,
		UserID:          user.ID,
		ProjectID:       project.ID,
		ConfigurationID: cfg.ID,
		LicenseID:       req.LicenseID,
		UserLicenseID:   userLicenseID,
		Environment:     req.Environment,
		Branch:          req.Branch,
		Status:          domain.StatusPending,
		SiteID:          cfg.SiteID,
		EnvironmentVars: mergeVars(cfg.EnvironmentVars, req.EnvironmentVars),
		IsTest:          req.IsTest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		s.locks.Release(deploymentID)
		return nil, err
	}

	// Billing and notification listeners react to creation whether or not
	// the dispatch below succeeds.
	s.bus.Publish(event.Event{Kind: event.DeploymentCreated, Deployment: *deployment})

	accounts := s.orderedAccounts(ctx, cfg, "")
	if err := s.dispatch(ctx, deployment, accounts); err != nil {
		return deployment, err
	}
	return deployment, nil
}

// dispatch tries the head of the ordered credential list. Only one credential
// is attempted per dispatch; ordering balances load across dispatches.
func (s *Service) dispatch(ctx context.Context, deployment *domain.Deployment, accounts []domain.GithubAccount) error {
	account := accounts[0]
	token, err := s.cipher.Decrypt(account.AccessToken)
	if err != nil {
		s.markFailed(ctx, deployment, fmt.Sprintf("credential decrypt failed for %s", account.Username))
		s.locks.Release(deployment.ID)
		return dispatchError(err)
	}
	cred := provider.Credential{
		Username:     account.Username,
		Token:        token,
		Repository:   account.Repository,
		WorkflowFile: account.WorkflowFile,
	}

	snapshot := &domain.AccountSnapshot{
		Username:     account.Username,
		AccessToken:  account.AccessToken,
		Repository:   account.Repository,
		WorkflowFile: account.WorkflowFile,
	}

	runID, err := s.dispatcher.Dispatch(ctx, *deployment, cred)
	if err != nil {
		s.logger.Error("dispatch failed", "deployment_id", deployment.ID, "account", account.Username, "error", err)
		// Record which credential was attempted so a retry rotates past it.
		deployment.GithubAccount = snapshot
		s.markFailed(ctx, deployment, err.Error())
		s.locks.Release(deployment.ID)
		s.bus.Publish(event.Event{Kind: event.DeploymentFailed, Deployment: *deployment})
		return dispatchError(err)
	}
	update := domain.DeploymentStatusUpdate{
		DeploymentID:  deployment.ID,
		Status:        domain.StatusRunning,
		WorkflowRunID: &runID,
		GithubAccount: snapshot,
	}
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Error("status update to running failed", "deployment_id", deployment.ID, "run_id", runID, "error", err)
		// The run is live upstream but untracked locally. Cancel it rather
		// than leave an orphan, and free the slot instead of waiting for the
		// stale-pending sweep.
		if canceled, cancelErr := s.dispatcher.Cancel(ctx, cred, runID); cancelErr != nil {
			s.logger.Warn("orphaned run cancel failed", "deployment_id", deployment.ID, "run_id", runID, "error", cancelErr)
		} else if !canceled {
			s.logger.Info("orphaned run not cancelable", "deployment_id", deployment.ID, "run_id", runID)
		}
		deployment.GithubAccount = snapshot
		s.markFailed(ctx, deployment, fmt.Sprintf("run %d dispatched but status update failed: %v", runID, err))
		s.locks.Release(deployment.ID)
		s.bus.Publish(event.Event{Kind: event.DeploymentFailed, Deployment: *deployment})
		return err
	}
	deployment.Status = domain.StatusRunning
	deployment.WorkflowRunID = &runID
	deployment.GithubAccount = snapshot
	s.logger.Info("deployment running", "deployment_id", deployment.ID, "run_id", runID, "account", account.Username)

	// Push notifications are an optimization over polling; losing them is
	// tolerable.
	if hookID, err := s.hooks.Subscribe(ctx, cred); err != nil {
		s.logger.Warn("webhook subscribe failed", "deployment_id", deployment.ID, "error", err)
	} else {
		owner, repo, _ := cred.SplitRepository()
		ref := &domain.WebhookRef{HookID: hookID, Owner: owner, Repo: repo}
		if err := s.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
			DeploymentID: deployment.ID,
			Status:       domain.StatusRunning,
			Webhook:      ref,
		}); err != nil {
			s.logger.Warn("webhook ref update failed", "deployment_id", deployment.ID, "error", err)
		} else {
			deployment.Webhook = ref
		}
	}

	s.broadcast(deployment)
	return nil
}

// Retry re-enters the state machine from FAILED, ordering credentials so the
// account that just failed is skipped for one cycle.
func (s *Service) Retry(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.getOwned(ctx, deploymentID, userID)
	if err != nil {
		return nil, err
	}
	if deployment.Status != domain.StatusFailed {
		return nil, validationError("only failed deployments can be retried")
	}
	cfg, err := s.projects.GetConfigurationByID(ctx, deployment.ConfigurationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("configuration")
		}
		return nil, err
	}
	if len(cfg.GithubAccounts) == 0 {
		return nil, validationError("configuration %s has no provider accounts", cfg.ID)
	}

	key := lock.Key{OwnerID: deployment.UserID, ProjectID: deployment.ProjectID, Environment: deployment.Environment}
	granted, err := s.locks.Acquire(ctx, key, deployment.ID, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !granted.Acquired {
		return nil, conflictError(granted.HeldBy)
	}

	retryCount := deployment.RetryCount + 1
	if err := s.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.StatusPending,
		RetryCount:   &retryCount,
	}); err != nil {
		s.locks.Release(deployment.ID)
		return nil, err
	}
	deployment.Status = domain.StatusPending
	deployment.RetryCount = retryCount
	deployment.ErrorMessage = ""

	failedUsername := ""
	if deployment.GithubAccount != nil {
		failedUsername = deployment.GithubAccount.Username
	}
	accounts := s.orderedAccounts(ctx, cfg, failedUsername)
	if err := s.dispatch(ctx, deployment, accounts); err != nil {
		return deployment, err
	}
	return deployment, nil
}

// Cancel stops an active deployment. The upstream cancel is best effort and
// never blocks the local transition.
func (s *Service) Cancel(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.getOwned(ctx, deploymentID, userID)
	if err != nil {
		return nil, err
	}
	if !deployment.Status.Active() {
		return nil, validationError("only pending or running deployments can be canceled")
	}

	if deployment.Status == domain.StatusRunning && deployment.WorkflowRunID != nil && deployment.GithubAccount != nil {
		if cred, err := s.snapshotCredential(deployment.GithubAccount); err == nil {
			canceled, cancelErr := s.dispatcher.Cancel(ctx, cred, *deployment.WorkflowRunID)
			if cancelErr != nil {
				s.logger.Warn("upstream cancel failed", "deployment_id", deployment.ID, "error", cancelErr)
			} else if !canceled {
				s.logger.Info("upstream run not cancelable", "deployment_id", deployment.ID)
			}
		}
	}

	completed := s.now().UTC()
	if err := s.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.StatusCanceled,
		CompletedAt:  &completed,
		ClearWebhook: true,
	}); err != nil {
		return nil, err
	}
	deployment.Status = domain.StatusCanceled
	deployment.CompletedAt = &completed

	s.locks.Release(deployment.ID)
	s.teardownWebhook(ctx, deployment)
	s.bus.Publish(event.Event{Kind: event.DeploymentCanceled, Deployment: *deployment})
	s.broadcast(deployment)
	return deployment, nil
}

// RedeployOverrides optionally replace parts of the prior deployment.
type RedeployOverrides struct {
	Environment     *domain.Environment          `json:"environment"`
	Branch          *string                      `json:"branch"`
	EnvironmentVars []domain.EnvironmentVariable `json:"environment_variables"`
}

// Redeploy clones a prior deployment's configuration and re-enters Create,
// which re-validates the license and quota.
func (s *Service) Redeploy(ctx context.Context, deploymentID string, overrides RedeployOverrides, user *domain.User) (*domain.Deployment, error) {
	prior, err := s.getOwned(ctx, deploymentID, user.ID)
	if err != nil {
		return nil, err
	}
	req := CreateRequest{
		ProjectID:       prior.ProjectID,
		ConfigurationID: prior.ConfigurationID,
		LicenseID:       prior.LicenseID,
		Environment:     prior.Environment,
		Branch:          prior.Branch,
		EnvironmentVars: prior.EnvironmentVars,
		IsTest:          prior.IsTest,
	}
	if overrides.Environment != nil {
		req.Environment = *overrides.Environment
	}
	if overrides.Branch != nil {
		req.Branch = *overrides.Branch
	}
	if len(overrides.EnvironmentVars) > 0 {
		req.EnvironmentVars = overrides.EnvironmentVars
	}
	return s.Create(ctx, req, user)
}

// Get returns a deployment visible to the requester.
func (s *Service) Get(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	return s.getOwned(ctx, deploymentID, userID)
}

// ListByProject returns recent deployments for a project.
func (s *Service) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// Logs fetches provider logs for a deployment. Upstream failures never
// surface as errors; the caller always receives descriptive text.
func (s *Service) Logs(ctx context.Context, deploymentID, userID string) (string, error) {
	deployment, err := s.getOwned(ctx, deploymentID, userID)
	if err != nil {
		return "", err
	}
	if deployment.WorkflowRunID == nil || deployment.GithubAccount == nil {
		return "no provider run has been dispatched for this deployment yet", nil
	}
	cred, err := s.snapshotCredential(deployment.GithubAccount)
	if err != nil {
		return fmt.Sprintf("logs unavailable: credential error: %v", err), nil
	}
	logs, err := s.dispatcher.Logs(ctx, cred, *deployment.WorkflowRunID)
	if err != nil {
		return fmt.Sprintf("logs unavailable: %v", err), nil
	}
	return logs, nil
}

// ApplyRunState drives a deployment to its terminal status from an observed
// provider run state. Both the tracker sweep and webhook ingestion land here.
func (s *Service) ApplyRunState(ctx context.Context, deployment *domain.Deployment, state provider.RunState) error {
	if !deployment.Status.Active() {
		return nil
	}
	if !state.Finished() {
		return nil
	}

	completed := s.now().UTC()
	update := domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		CompletedAt:  &completed,
		ClearWebhook: true,
	}
	var kind event.Kind
	if state.Succeeded() {
		update.Status = domain.StatusSuccess
		if state.DeploymentURL != "" {
			update.DeploymentURL = &state.DeploymentURL
		}
		kind = event.DeploymentSucceeded
	} else {
		update.Status = domain.StatusFailed
		update.ErrorMessage = fmt.Sprintf("provider run concluded: %s", state.Conclusion)
		kind = event.DeploymentFailed
	}

	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		return err
	}
	deployment.Status = update.Status
	deployment.CompletedAt = &completed
	if update.DeploymentURL != nil {
		deployment.DeploymentURL = update.DeploymentURL
	}
	if update.ErrorMessage != "" {
		deployment.ErrorMessage = update.ErrorMessage
	}

	s.locks.Release(deployment.ID)
	s.teardownWebhook(ctx, deployment)
	s.bus.Publish(event.Event{Kind: kind, Deployment: *deployment})
	s.broadcast(deployment)
	s.logger.Info("deployment finished",
		"deployment_id", deployment.ID, "status", deployment.Status, "conclusion", state.Conclusion)
	return nil
}

// MarkTimedOut forces a stale deployment to FAILED. Used by the tracker when
// a record exceeds its maximum pending/running age.
func (s *Service) MarkTimedOut(ctx context.Context, deployment *domain.Deployment, age time.Duration) error {
	completed := s.now().UTC()
	if err := s.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deployment.ID,
		Status:       domain.StatusFailed,
		ErrorMessage: fmt.Sprintf("deployment timed out after %s in status %s", age.Round(time.Second), deployment.Status),
		CompletedAt:  &completed,
		ClearWebhook: true,
	}); err != nil {
		return err
	}
	deployment.Status = domain.StatusFailed
	s.locks.Release(deployment.ID)
	s.teardownWebhook(ctx, deployment)
	s.bus.Publish(event.Event{Kind: event.DeploymentFailed, Deployment: *deployment})
	s.broadcast(deployment)
	return nil
}

// CheckRun polls the provider for a running deployment's current state.
func (s *Service) CheckRun(ctx context.Context, deployment *domain.Deployment) (provider.RunState, error) {
	if deployment.WorkflowRunID == nil || deployment.GithubAccount == nil {
		return provider.RunState{}, fmt.Errorf("deployment %s has no correlated run", deployment.ID)
	}
	cred, err := s.snapshotCredential(deployment.GithubAccount)
	if err != nil {
		return provider.RunState{}, err
	}
	return s.dispatcher.Status(ctx, cred, *deployment.WorkflowRunID)
}

// FindByRunID resolves the deployment a provider run belongs to.
func (s *Service) FindByRunID(ctx context.Context, runID int64) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByRunID(ctx, runID)
}

func (s *Service) getOwned(ctx context.Context, deploymentID, userID string) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("deployment")
		}
		return nil, err
	}
	if userID != "" && deployment.UserID != userID {
		return nil, forbiddenError("deployment belongs to another user")
	}
	return deployment, nil
}

func (s *Service) orderedAccounts(ctx context.Context, cfg *domain.Configuration, failedUsername string) []domain.GithubAccount {
	recent, err := s.deployments.ListRecentDeployments(ctx, cfg.ID, recentHistoryDepth)
	if err != nil {
		s.logger.Warn("recent history lookup failed, using configured order", "configuration_id", cfg.ID, "error", err)
		recent = nil
	}
	if failedUsername != "" {
		return rotation.OrderForRetry(cfg.GithubAccounts, recent, failedUsername)
	}
	return rotation.Order(cfg.GithubAccounts, recent)
}

func (s *Service) snapshotCredential(snapshot *domain.AccountSnapshot) (provider.Credential, error) {
	token, err := s.cipher.Decrypt(snapshot.AccessToken)
	if err != nil {
		return provider.Credential{}, fmt.Errorf("decrypt snapshot token: %w", err)
	}
	return provider.Credential{
		Username:     snapshot.Username,
		Token:        token,
		Repository:   snapshot.Repository,
		WorkflowFile: snapshot.WorkflowFile,
	}, nil
}

func (s *Service) markFailed(ctx context.Context, deployment *domain.Deployment, message string) {
	completed := s.now().UTC()
	if err := s.deployments.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:  deployment.ID,
		Status:        domain.StatusFailed,
		ErrorMessage:  message,
		GithubAccount: deployment.GithubAccount,
		CompletedAt:   &completed,
	}); err != nil {
		s.logger.Error("mark failed errored", "deployment_id", deployment.ID, "error", err)
	}
	deployment.Status = domain.StatusFailed
	deployment.ErrorMessage = message
	s.broadcast(deployment)
}

func (s *Service) teardownWebhook(ctx context.Context, deployment *domain.Deployment) {
	if deployment.Webhook == nil || deployment.GithubAccount == nil {
		return
	}
	cred, err := s.snapshotCredential(deployment.GithubAccount)
	if err != nil {
		s.logger.Warn("webhook teardown skipped", "deployment_id", deployment.ID, "error", err)
		return
	}
	if err := s.hooks.Unsubscribe(ctx, cred, deployment.Webhook.HookID); err != nil {
		s.logger.Warn("webhook teardown failed", "deployment_id", deployment.ID, "hook_id", deployment.Webhook.HookID, "error", err)
	}
	deployment.Webhook = nil
}

func (s *Service) broadcast(deployment *domain.Deployment) {
	if s.stream == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"deployment_id": deployment.ID,
		"project_id":    deployment.ProjectID,
		"environment":   deployment.Environment,
		"status":        deployment.Status,
		"error":         deployment.ErrorMessage,
		"url":           deployment.DeploymentURL,
		"updated_at":    s.now().UTC(),
	})
	if err != nil {
		return
	}
	s.stream.Broadcast(deployment.ProjectID, payload)
}

func checkRequiredVars(declared, provided []domain.EnvironmentVariable) error {
	byKey := make(map[string]domain.EnvironmentVariable, len(provided))
	for _, v := range provided {
		byKey[v.Key] = v
	}
	for _, decl := range declared {
		if !decl.IsRequired || decl.DefaultValue != "" {
			continue
		}
		if v, ok := byKey[decl.Key]; !ok || v.DefaultValue == "" {
			return validationError("required environment variable %s is missing", decl.Key)
		}
	}
	return nil
}

func mergeVars(declared, provided []domain.EnvironmentVariable) []domain.EnvironmentVariable {
	out := make([]domain.EnvironmentVariable, 0, len(declared))
	overrides := make(map[string]domain.EnvironmentVariable, len(provided))
	for _, v := range provided {
		overrides[v.Key] = v
	}
	seen := make(map[string]struct{}, len(declared))
	for _, decl := range declared {
		merged := decl
		if v, ok := overrides[decl.Key]; ok && v.DefaultValue != "" {
			merged.DefaultValue = v.DefaultValue
		}
		out = append(out, merged)
		seen[decl.Key] = struct{}{}
	}
	for _, v := range provided {
		if _, ok := seen[v.Key]; !ok {
			out = append(out, v)
		}
	}
	return out
}
