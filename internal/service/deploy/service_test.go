package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/event"
	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/internal/repository"
	"github.com/nebur242/deploy-hub/internal/service/lock"
	"github.com/nebur242/deploy-hub/internal/service/quota"
	"github.com/nebur242/deploy-hub/pkg/crypto"
)

type fakeDeploymentRepo struct {
	mu          sync.Mutex
	byID        map[string]*domain.Deployment
	active      []domain.Deployment
	recent      []domain.Deployment
	createErr   error
	updateErr   error
	updateCalls int
	updates     []domain.DeploymentStatusUpdate
}

func newFakeDeploymentRepo() *fakeDeploymentRepo {
	return &fakeDeploymentRepo{byID: map[string]*domain.Deployment{}}
}

func (f *fakeDeploymentRepo) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *d
	f.byID[d.ID] = &clone
	return nil
}

func (f *fakeDeploymentRepo) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (f *fakeDeploymentRepo) GetDeploymentByRunID(_ context.Context, runID int64) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.byID {
		if d.WorkflowRunID != nil && *d.WorkflowRunID == runID {
			clone := *d
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDeploymentRepo) UpdateDeploymentStatus(_ context.Context, update domain.DeploymentStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.updates = append(f.updates, update)
	if f.updateErr != nil {
		return f.updateErr
	}
	d, ok := f.byID[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	if update.ErrorMessage != "" {
		d.ErrorMessage = update.ErrorMessage
	}
	if update.WorkflowRunID != nil {
		d.WorkflowRunID = update.WorkflowRunID
	}
	if update.GithubAccount != nil {
		d.GithubAccount = update.GithubAccount
	}
	if update.DeploymentURL != nil {
		d.DeploymentURL = update.DeploymentURL
	}
	if update.Webhook != nil {
		d.Webhook = update.Webhook
	}
	if update.ClearWebhook {
		d.Webhook = nil
	}
	if update.RetryCount != nil {
		d.RetryCount = *update.RetryCount
	}
	if update.CompletedAt != nil {
		d.CompletedAt = update.CompletedAt
	}
	return nil
}

func (f *fakeDeploymentRepo) ListActiveDeployments(_ context.Context, userID, projectID string, env domain.Environment, excludeID string) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, d := range f.active {
		if excludeID != "" && d.ID == excludeID {
			continue
		}
		out = append(out, d)
	}
	// Persisted records count too, like the real query does.
	for _, d := range f.byID {
		if d.ID == excludeID || !d.Status.Active() {
			continue
		}
		if d.UserID != userID || d.ProjectID != projectID || d.Environment != env {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDeploymentRepo) ListRecentDeployments(_ context.Context, _ string, _ int) ([]domain.Deployment, error) {
	return f.recent, nil
}

func (f *fakeDeploymentRepo) ListDeploymentsByProject(_ context.Context, projectID string, _ int) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, d := range f.byID {
		if d.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDeploymentRepo) ListDeploymentsWithStatus(_ context.Context, status domain.DeploymentStatus) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, d := range f.byID {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDeploymentRepo) ListDeploymentsWithStatusUpdatedBefore(_ context.Context, status domain.DeploymentStatus, _ time.Time) ([]domain.Deployment, error) {
	return f.ListDeploymentsWithStatus(context.Background(), status)
}

type fakeProjectRepo struct {
	project *domain.Project
	config  *domain.Configuration
}

func (f *fakeProjectRepo) GetProjectByID(_ context.Context, id string) (*domain.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.project, nil
}

func (f *fakeProjectRepo) GetConfigurationByID(_ context.Context, id string) (*domain.Configuration, error) {
	if f.config == nil || f.config.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.config, nil
}

type fakeLicenseRepo struct {
	mu          sync.Mutex
	license     *domain.License
	grant       *domain.UserLicense
	licenseIncs int
	grantIncs   int
}

func (f *fakeLicenseRepo) licenseIncrements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.licenseIncs
}

func (f *fakeLicenseRepo) GetLicenseByID(_ context.Context, id string) (*domain.License, error) {
	if f.license == nil || f.license.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.license, nil
}

func (f *fakeLicenseRepo) GetUserLicense(_ context.Context, userID, licenseID string) (*domain.UserLicense, error) {
	if f.grant == nil || f.grant.UserID != userID || f.grant.LicenseID != licenseID {
		return nil, repository.ErrNotFound
	}
	return f.grant, nil
}

func (f *fakeLicenseRepo) IncrementLicenseUsage(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.licenseIncs++
	return nil
}

func (f *fakeLicenseRepo) IncrementUserLicenseUsage(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantIncs++
	return nil
}

type fakeDispatcher struct {
	runID       int64
	dispatchErr error
	state       provider.RunState
	statusErr   error
	logs        string
	logsErr     error
	canceled    bool
	cancelErr   error

	dispatchCalls int
	cancelCalls   int
	lastCred      provider.Credential
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ domain.Deployment, cred provider.Credential) (int64, error) {
	f.dispatchCalls++
	f.lastCred = cred
	if f.dispatchErr != nil {
		return 0, f.dispatchErr
	}
	return f.runID, nil
}

func (f *fakeDispatcher) Status(_ context.Context, _ provider.Credential, _ int64) (provider.RunState, error) {
	return f.state, f.statusErr
}

func (f *fakeDispatcher) Logs(_ context.Context, _ provider.Credential, _ int64) (string, error) {
	return f.logs, f.logsErr
}

func (f *fakeDispatcher) Cancel(_ context.Context, _ provider.Credential, _ int64) (bool, error) {
	f.cancelCalls++
	return f.canceled, f.cancelErr
}

type fakeHooks struct {
	hookID         int64
	subscribeErr   error
	subscribeCalls int
	unsubCalls     int
	lastUnsubHook  int64
}

func (f *fakeHooks) Subscribe(_ context.Context, _ provider.Credential) (int64, error) {
	f.subscribeCalls++
	if f.subscribeErr != nil {
		return 0, f.subscribeErr
	}
	return f.hookID, nil
}

func (f *fakeHooks) Unsubscribe(_ context.Context, _ provider.Credential, hookID int64) error {
	f.unsubCalls++
	f.lastUnsubHook = hookID
	return nil
}

type fakeStream struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeStream) Broadcast(topic string, _ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, topic)
}

type testHarness struct {
	svc        *Service
	deployRepo *fakeDeploymentRepo
	projects   *fakeProjectRepo
	licenses   *fakeLicenseRepo
	dispatcher *fakeDispatcher
	hooks      *fakeHooks
	stream     *fakeStream
	locks      *lock.Manager
	cipher     crypto.Cipher
	bus        *event.Bus
	user       *domain.User
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cipher := crypto.NewCipher("test-encryption-secret")
	encrypted, err := cipher.Encrypt("gh-token")
	if err != nil {
		t.Fatalf("encrypt fixture token: %v", err)
	}

	deployRepo := newFakeDeploymentRepo()
	projects := &fakeProjectRepo{
		project: &domain.Project{ID: "proj-1", OwnerID: "user-1", Name: "site"},
		config: &domain.Configuration{
			ID:        "cfg-1",
			ProjectID: "proj-1",
			GithubAccounts: []domain.GithubAccount{
				{Username: "acct-a", AccessToken: encrypted, Repository: "acct-a/site", WorkflowFile: "deploy.yml"},
				{Username: "acct-b", AccessToken: encrypted, Repository: "acct-b/site", WorkflowFile: "deploy.yml"},
			},
			SiteID: "site-1",
		},
	}
	licenses := &fakeLicenseRepo{
		license: &domain.License{ID: "lic-1", ProjectID: "proj-1", MaxDeployments: 10, Active: true},
	}
	dispatcher := &fakeDispatcher{runID: 9001}
	hooks := &fakeHooks{hookID: 55}
	stream := &fakeStream{}
	logger := discardLogger()
	locks := lock.NewManager(deployRepo, logger, time.Minute)
	bus := event.NewBus(logger, 64)

	svc := New(deployRepo, projects, licenses, quota.New(licenses, logger), locks,
		dispatcher, hooks, cipher, bus, stream, logger, time.Minute)

	return &testHarness{
		svc:        svc,
		deployRepo: deployRepo,
		projects:   projects,
		licenses:   licenses,
		dispatcher: dispatcher,
		hooks:      hooks,
		stream:     stream,
		locks:      locks,
		cipher:     cipher,
		bus:        bus,
		user:       &domain.User{ID: "user-1", Email: "owner@example.com"},
	}
}

func validRequest() CreateRequest {
	return CreateRequest{
		ProjectID:       "proj-1",
		ConfigurationID: "cfg-1",
		LicenseID:       "lic-1",
		Environment:     domain.EnvProduction,
		Branch:          "main",
	}
}

func TestCreateDispatchesAndTransitionsToRunning(t *testing.T) {
	h := newHarness(t)

	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if deployment.Status != domain.StatusRunning {
		t.Fatalf("expected running, got %s", deployment.Status)
	}
	if deployment.WorkflowRunID == nil || *deployment.WorkflowRunID != 9001 {
		t.Fatalf("expected correlated run 9001, got %v", deployment.WorkflowRunID)
	}
	if deployment.GithubAccount == nil {
		t.Fatal("expected credential snapshot on deployment")
	}
	if h.dispatcher.lastCred.Token != "gh-token" {
		t.Fatalf("expected decrypted token passed to dispatcher, got %q", h.dispatcher.lastCred.Token)
	}
	if h.hooks.subscribeCalls != 1 {
		t.Fatalf("expected one webhook subscription, got %d", h.hooks.subscribeCalls)
	}
	if deployment.Webhook == nil || deployment.Webhook.HookID != 55 {
		t.Fatalf("expected webhook ref recorded, got %+v", deployment.Webhook)
	}
}

func TestCreateRejectsInvalidEnvironment(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.Environment = "staging"

	_, err := h.svc.Create(context.Background(), req, h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.dispatcher.dispatchCalls != 0 {
		t.Fatalf("expected no dispatch, got %d", h.dispatcher.dispatchCalls)
	}
}

func TestCreateRejectsUnknownProject(t *testing.T) {
	h := newHarness(t)
	req := validRequest()
	req.ProjectID = "proj-missing"

	_, err := h.svc.Create(context.Background(), req, h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRejectsForeignConfiguration(t *testing.T) {
	h := newHarness(t)
	h.projects.config.ProjectID = "proj-other"

	_, err := h.svc.Create(context.Background(), validRequest(), h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsMissingRequiredVariable(t *testing.T) {
	h := newHarness(t)
	h.projects.config.EnvironmentVars = []domain.EnvironmentVariable{
		{Key: "API_KEY", IsRequired: true},
	}

	_, err := h.svc.Create(context.Background(), validRequest(), h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	req := validRequest()
	req.EnvironmentVars = []domain.EnvironmentVariable{{Key: "API_KEY", DefaultValue: "secret"}}
	if _, err := h.svc.Create(context.Background(), req, h.user); err != nil {
		t.Fatalf("expected create to pass with provided value, got %v", err)
	}
}

func TestCreateEnforcesQuota(t *testing.T) {
	h := newHarness(t)
	h.licenses.license.MaxDeployments = 3
	h.licenses.license.DeploymentsUsed = 3

	_, err := h.svc.Create(context.Background(), validRequest(), h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindQuota {
		t.Fatalf("expected quota error, got %v", err)
	}
	if !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("expected wrapped ErrExceeded, got %v", err)
	}
}

func TestCreateTestDeploymentBypassesQuota(t *testing.T) {
	h := newHarness(t)
	h.licenses.license.MaxDeployments = 1
	h.licenses.license.DeploymentsUsed = 1

	req := validRequest()
	req.IsTest = true
	deployment, err := h.svc.Create(context.Background(), req, h.user)
	if err != nil {
		t.Fatalf("expected test deployment to bypass quota, got %v", err)
	}
	if !deployment.IsTest {
		t.Fatal("expected is_test to persist")
	}
}

func TestCreateConflictNamesBlockingDeployment(t *testing.T) {
	h := newHarness(t)
	h.deployRepo.active = []domain.Deployment{{ID: "dep-blocking", Status: domain.StatusRunning}}

	_, err := h.svc.Create(context.Background(), validRequest(), h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if svcErr.BlockingID != "dep-blocking" {
		t.Fatalf("expected blocking id dep-blocking, got %q", svcErr.BlockingID)
	}
	if h.dispatcher.dispatchCalls != 0 {
		t.Fatalf("expected no dispatch on conflict, got %d", h.dispatcher.dispatchCalls)
	}
}

func TestConcurrentCreatesAcceptExactlyOne(t *testing.T) {
	h := newHarness(t)
	const attempts = 8

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted, conflicts int
	var unexpected []error
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.Create(context.Background(), validRequest(), h.user)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if svcErr, ok := AsError(err); ok && svcErr.Kind == KindConflict {
				conflicts++
				return
			}
			unexpected = append(unexpected, err)
		}()
	}
	close(start)
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", accepted)
	}
	if conflicts != attempts-1 {
		t.Fatalf("expected %d conflicts, got %d", attempts-1, conflicts)
	}

	// Losing requests must not leave records behind.
	h.deployRepo.mu.Lock()
	persisted := len(h.deployRepo.byID)
	h.deployRepo.mu.Unlock()
	if persisted != 1 {
		t.Fatalf("expected a single persisted deployment, got %d", persisted)
	}
	if h.dispatcher.dispatchCalls != 1 {
		t.Fatalf("expected a single dispatch, got %d", h.dispatcher.dispatchCalls)
	}
}

func TestCreateDispatchFailureMarksFailedAndReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.dispatchErr = errors.New("boom")

	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindDispatch {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if deployment == nil {
		t.Fatal("expected the failed record to be returned")
	}
	if deployment.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", deployment.Status)
	}

	// The slot must be free for the next attempt.
	key := lock.Key{OwnerID: "user-1", ProjectID: "proj-1", Environment: domain.EnvProduction}
	if holder, held := h.locks.Held(key); held {
		t.Fatalf("expected lock released, still held by %s", holder)
	}
}

func TestCreateStatusUpdateFailureCancelsRunAndReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.deployRepo.updateErr = errors.New("db down")
	h.dispatcher.canceled = true

	_, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err == nil {
		t.Fatal("expected error when the running transition cannot be stored")
	}
	if h.dispatcher.cancelCalls != 1 {
		t.Fatalf("expected the orphaned run to be canceled upstream, got %d cancels", h.dispatcher.cancelCalls)
	}

	// The slot must not stay blocked until the stale-pending sweep.
	key := lock.Key{OwnerID: "user-1", ProjectID: "proj-1", Environment: domain.EnvProduction}
	if holder, held := h.locks.Held(key); held {
		t.Fatalf("expected lock released, still held by %s", holder)
	}
}

func TestCreateSurvivesWebhookSubscribeFailure(t *testing.T) {
	h := newHarness(t)
	h.hooks.subscribeErr = errors.New("hooks api down")

	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if deployment.Status != domain.StatusRunning {
		t.Fatalf("expected running despite hook failure, got %s", deployment.Status)
	}
	if deployment.Webhook != nil {
		t.Fatal("expected no webhook ref recorded")
	}
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	_, err = h.svc.Retry(context.Background(), deployment.ID, h.user.ID)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindValidation {
		t.Fatalf("expected validation error for non-failed retry, got %v", err)
	}
}

func TestRetrySkipsFailedAccountAndIncrementsCount(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.dispatchErr = errors.New("boom")
	deployment, _ := h.svc.Create(context.Background(), validRequest(), h.user)
	if deployment == nil || deployment.Status != domain.StatusFailed {
		t.Fatalf("setup expected failed deployment, got %+v", deployment)
	}

	h.dispatcher.dispatchErr = nil
	retried, err := h.svc.Retry(context.Background(), deployment.ID, h.user.ID)
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", retried.RetryCount)
	}
	if retried.Status != domain.StatusRunning {
		t.Fatalf("expected running, got %s", retried.Status)
	}
	// The first attempt used acct-a; the retry must rotate past it.
	if h.dispatcher.lastCred.Username != "acct-b" {
		t.Fatalf("expected retry on acct-b, got %s", h.dispatcher.lastCred.Username)
	}
}

func TestRetryForbiddenForOtherUsers(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.dispatchErr = errors.New("boom")
	deployment, _ := h.svc.Create(context.Background(), validRequest(), h.user)

	_, err := h.svc.Retry(context.Background(), deployment.ID, "user-2")
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancelRunningDeployment(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.canceled = true
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	canceled, err := h.svc.Cancel(context.Background(), deployment.ID, h.user.ID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if canceled.Status != domain.StatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
	if canceled.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if h.dispatcher.cancelCalls != 1 {
		t.Fatalf("expected one upstream cancel, got %d", h.dispatcher.cancelCalls)
	}
	if h.hooks.unsubCalls != 1 || h.hooks.lastUnsubHook != 55 {
		t.Fatalf("expected webhook teardown for hook 55, got calls=%d hook=%d", h.hooks.unsubCalls, h.hooks.lastUnsubHook)
	}

	key := lock.Key{OwnerID: "user-1", ProjectID: "proj-1", Environment: domain.EnvProduction}
	if _, held := h.locks.Held(key); held {
		t.Fatal("expected lock released after cancel")
	}
}

func TestCancelRejectsTerminalDeployment(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	if _, err := h.svc.Cancel(context.Background(), deployment.ID, h.user.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	_, err = h.svc.Cancel(context.Background(), deployment.ID, h.user.ID)
	svcErr, ok := AsError(err)
	if !ok || svcErr.Kind != KindValidation {
		t.Fatalf("expected validation error on second cancel, got %v", err)
	}
}

func TestCancelSurvivesUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.cancelErr = errors.New("api down")
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	canceled, err := h.svc.Cancel(context.Background(), deployment.ID, h.user.ID)
	if err != nil {
		t.Fatalf("expected local cancel despite upstream failure, got %v", err)
	}
	if canceled.Status != domain.StatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
}

func TestApplyRunStateSuccessStoresURL(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	state := provider.RunState{
		Status:        provider.RunStatusCompleted,
		Conclusion:    provider.ConclusionSuccess,
		DeploymentURL: "https://site.vercel.app",
	}
	if err := h.svc.ApplyRunState(context.Background(), deployment, state); err != nil {
		t.Fatalf("ApplyRunState returned error: %v", err)
	}
	if deployment.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %s", deployment.Status)
	}
	if deployment.DeploymentURL == nil || *deployment.DeploymentURL != "https://site.vercel.app" {
		t.Fatalf("expected stored url, got %v", deployment.DeploymentURL)
	}

	key := lock.Key{OwnerID: "user-1", ProjectID: "proj-1", Environment: domain.EnvProduction}
	if _, held := h.locks.Held(key); held {
		t.Fatal("expected lock released after terminal state")
	}
}

func TestApplyRunStateFailureRecordsConclusion(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	state := provider.RunState{Status: provider.RunStatusCompleted, Conclusion: provider.ConclusionFailure}
	if err := h.svc.ApplyRunState(context.Background(), deployment, state); err != nil {
		t.Fatalf("ApplyRunState returned error: %v", err)
	}
	if deployment.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", deployment.Status)
	}
	if deployment.ErrorMessage == "" {
		t.Fatal("expected conclusion recorded in error message")
	}
}

func TestApplyRunStateIgnoresUnfinishedRun(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	before := h.deployRepo.updateCalls

	state := provider.RunState{Status: provider.RunStatusInProgress}
	if err := h.svc.ApplyRunState(context.Background(), deployment, state); err != nil {
		t.Fatalf("ApplyRunState returned error: %v", err)
	}
	if deployment.Status != domain.StatusRunning {
		t.Fatalf("expected still running, got %s", deployment.Status)
	}
	if h.deployRepo.updateCalls != before {
		t.Fatal("expected no status update for unfinished run")
	}
}

func TestApplyRunStateIdempotentOnTerminalDeployment(t *testing.T) {
	h := newHarness(t)
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	state := provider.RunState{Status: provider.RunStatusCompleted, Conclusion: provider.ConclusionSuccess}
	if err := h.svc.ApplyRunState(context.Background(), deployment, state); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	before := h.deployRepo.updateCalls

	if err := h.svc.ApplyRunState(context.Background(), deployment, state); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if h.deployRepo.updateCalls != before {
		t.Fatal("expected no further updates on settled deployment")
	}
}

func TestRedeployClonesPriorDeployment(t *testing.T) {
	h := newHarness(t)
	prior, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	state := provider.RunState{Status: provider.RunStatusCompleted, Conclusion: provider.ConclusionSuccess}
	if err := h.svc.ApplyRunState(context.Background(), prior, state); err != nil {
		t.Fatalf("settle prior failed: %v", err)
	}

	branch := "release"
	clone, err := h.svc.Redeploy(context.Background(), prior.ID, RedeployOverrides{Branch: &branch}, h.user)
	if err != nil {
		t.Fatalf("Redeploy returned error: %v", err)
	}
	if clone.ID == prior.ID {
		t.Fatal("expected a new deployment record")
	}
	if clone.Branch != "release" {
		t.Fatalf("expected override branch, got %s", clone.Branch)
	}
	if clone.ConfigurationID != prior.ConfigurationID || clone.Environment != prior.Environment {
		t.Fatal("expected configuration and environment cloned")
	}
}

func TestLogsNeverSurfaceUpstreamErrors(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.logsErr = errors.New("502 bad gateway")
	deployment, err := h.svc.Create(context.Background(), validRequest(), h.user)
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}

	logs, err := h.svc.Logs(context.Background(), deployment.ID, h.user.ID)
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if logs == "" {
		t.Fatal("expected descriptive placeholder text")
	}
}

func TestQuotaConsumedThroughEventBus(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quotaSvc := quota.New(h.licenses, discardLogger())
	h.bus.Subscribe(quotaSvc.HandleEvent)
	go h.bus.Run(ctx)

	if _, err := h.svc.Create(ctx, validRequest(), h.user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for h.licenses.licenseIncrements() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.licenses.licenseIncrements(); got != 1 {
		t.Fatalf("expected one license increment, got %d", got)
	}
}
