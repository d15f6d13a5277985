package github

import (
	"context"
	"fmt"
	"sort"
	"time"

	gh "github.com/google/go-github/v62/github"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/pkg/retry"
)

// Dispatch triggers the configured workflow and correlates the run it
// created. The dispatch API returns no run id, so runs are snapshotted
// before triggering and the newest run absent from the snapshot wins.
func (a *Adapter) Dispatch(ctx context.Context, deployment domain.Deployment, cred provider.Credential) (int64, error) {
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return 0, &provider.DispatchError{Step: "resolve repository", Err: err}
	}
	client := a.newClient(ctx, cred.Token)

	workflowID, err := a.resolveWorkflow(ctx, client, owner, repo, cred.WorkflowFile)
	if err != nil {
		return 0, &provider.DispatchError{Step: "resolve workflow", Err: err}
	}

	seen, err := a.snapshotRuns(ctx, client, owner, repo, workflowID)
	if err != nil {
		return 0, &provider.DispatchError{Step: "snapshot runs", Err: err}
	}

	dispatchedAt := a.now().UTC()
	if err := a.trigger(ctx, client, owner, repo, workflowID, deployment); err != nil {
		return 0, &provider.DispatchError{Step: "trigger", Err: err}
	}
	a.logger.Info("workflow dispatched",
		"deployment_id", deployment.ID, "owner", owner, "repo", repo,
		"workflow_id", workflowID, "branch", deployment.Branch)

	runID, err := a.correlate(ctx, client, owner, repo, workflowID, seen, dispatchedAt)
	if err != nil {
		return 0, &provider.DispatchError{Step: "correlate run", Err: err}
	}
	a.logger.Info("run correlated", "deployment_id", deployment.ID, "run_id", runID)
	return runID, nil
}

func (a *Adapter) snapshotRuns(ctx context.Context, client *gh.Client, owner, repo string, workflowID int64) (map[int64]struct{}, error) {
	runs, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) ([]*gh.WorkflowRun, error) {
		return a.listRuns(ctx, client, owner, repo, workflowID)
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(runs))
	for _, run := range runs {
		seen[run.GetID()] = struct{}{}
	}
	return seen, nil
}

func (a *Adapter) trigger(ctx context.Context, client *gh.Client, owner, repo string, workflowID int64, deployment domain.Deployment) error {
	inputs := map[string]interface{}{
		"environment": string(deployment.Environment),
	}
	for _, ev := range deployment.EnvironmentVars {
		inputs[ev.Key] = ev.DefaultValue
	}
	request := gh.CreateWorkflowDispatchEventRequest{
		Ref:    deployment.Branch,
		Inputs: inputs,
	}
	_, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (struct{}, error) {
		_, err := client.Actions.CreateWorkflowDispatchEventByID(ctx, owner, repo, workflowID, request)
		return struct{}{}, err
	})
	return err
}

// correlate polls for a run that is absent from the pre-dispatch snapshot and
// created after dispatch minus the skew buffer, taking the most recently
// created candidate. This step deliberately blocks the triggering request;
// callers size their timeouts accordingly.
func (a *Adapter) correlate(ctx context.Context, client *gh.Client, owner, repo string, workflowID int64, seen map[int64]struct{}, dispatchedAt time.Time) (int64, error) {
	windowStart := dispatchedAt.Add(-a.opts.CorrelationSkew)
	opts := retry.Options{
		MaxRetries:  uint64(a.opts.CorrelationMaxRetries),
		BaseDelay:   a.opts.CorrelationBaseDelay,
		MaxDelay:    a.opts.DispatchMaxDelay,
		Multiplier:  1.5,
		IsRetryable: func(error) bool { return true },
	}
	runID, attempts, err := retry.Do(ctx, opts, func(ctx context.Context) (int64, error) {
		runs, err := a.listRuns(ctx, client, owner, repo, workflowID)
		if err != nil {
			return 0, err
		}
		if run := pickNewRun(runs, seen, windowStart); run != nil {
			return run.GetID(), nil
		}
		return 0, fmt.Errorf("no new run for workflow %d yet", workflowID)
	})
	if err != nil {
		return 0, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return runID, nil
}

func (a *Adapter) listRuns(ctx context.Context, client *gh.Client, owner, repo string, workflowID int64) ([]*gh.WorkflowRun, error) {
	list, _, err := client.Actions.ListWorkflowRunsByID(ctx, owner, repo, workflowID, &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, err
	}
	return list.WorkflowRuns, nil
}

// pickNewRun selects the most recently created run that was not in the
// pre-dispatch snapshot and falls inside the correlation window.
func pickNewRun(runs []*gh.WorkflowRun, seen map[int64]struct{}, windowStart time.Time) *gh.WorkflowRun {
	var candidates []*gh.WorkflowRun
	for _, run := range runs {
		if _, ok := seen[run.GetID()]; ok {
			continue
		}
		if run.GetCreatedAt().Time.Before(windowStart) {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].GetCreatedAt().Time.After(candidates[j].GetCreatedAt().Time)
	})
	return candidates[0]
}
