package github

import (
	"context"

	gh "github.com/google/go-github/v62/github"

	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/internal/provider/siteurl"
	"github.com/nebur242/deploy-hub/pkg/retry"
)

// Status reports the current state of a run. The deployment URL is derived
// from logs only once the run completed successfully, since earlier log
// output cannot name the final address.
func (a *Adapter) Status(ctx context.Context, cred provider.Credential, runID int64) (provider.RunState, error) {
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return provider.RunState{}, err
	}
	client := a.newClient(ctx, cred.Token)

	run, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (*gh.WorkflowRun, error) {
		run, _, err := client.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
		return run, err
	})
	if err != nil {
		return provider.RunState{}, err
	}

	state := provider.RunState{
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
	}
	if state.Succeeded() {
		logs, logErr := a.Logs(ctx, cred, runID)
		if logErr == nil {
			state.DeploymentURL = siteurl.Extract(logs, siteurl.ProviderVercel)
			if state.DeploymentURL == "" {
				state.DeploymentURL = siteurl.Extract(logs, siteurl.ProviderNetlify)
			}
		} else {
			a.logger.Warn("log fetch for url extraction failed", "run_id", runID, "error", logErr)
		}
	}
	return state, nil
}

// cancelableStatuses are upstream states a run can still be cancelled from.
var cancelableStatuses = map[string]struct{}{
	"queued":      {},
	"in_progress": {},
	"waiting":     {},
	"requested":   {},
	"pending":     {},
}

// Cancel requests upstream cancellation. It reports false without error when
// the run already reached a state cancellation cannot touch.
func (a *Adapter) Cancel(ctx context.Context, cred provider.Credential, runID int64) (bool, error) {
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return false, err
	}
	client := a.newClient(ctx, cred.Token)

	run, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (*gh.WorkflowRun, error) {
		run, _, err := client.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
		return run, err
	})
	if err != nil {
		return false, err
	}
	if _, ok := cancelableStatuses[run.GetStatus()]; !ok {
		a.logger.Info("run not cancelable", "run_id", runID, "status", run.GetStatus())
		return false, nil
	}

	_, _, err = retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (struct{}, error) {
		_, err := client.Actions.CancelWorkflowRunByID(ctx, owner, repo, runID)
		return struct{}{}, err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
