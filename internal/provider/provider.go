// Package provider defines the ports the orchestration core uses to talk to
// the external CI runner. Implementations live in subpackages; the core only
// sees these interfaces so tests can fake the upstream entirely.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/nebur242/deploy-hub/internal/domain"
)

// Credential is the in-memory, decrypted form of a provider account. It never
// leaves the process and is discarded after the call using it returns.
type Credential struct {
	Username     string
	Token        string
	Repository   string
	WorkflowFile string
}

// SplitRepository separates an "owner/repo" spec. The username is the owner
// fallback when the configured value has no slash.
func (c Credential) SplitRepository() (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(c.Repository), "/")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", "", fmt.Errorf("empty repository for account %s", c.Username)
		}
		return c.Username, parts[0], nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("malformed repository %q for account %s", c.Repository, c.Username)
	}
}

// Run status values reported by the upstream runner.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"

	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

// RunState is a point-in-time view of an upstream run. DeploymentURL is
// filled lazily, only once the run completed successfully and the log
// extractor found an address.
type RunState struct {
	Status        string
	Conclusion    string
	DeploymentURL string
}

// Finished reports whether the run reached a terminal upstream state.
func (s RunState) Finished() bool {
	return s.Status == RunStatusCompleted
}

// Succeeded reports whether a finished run concluded successfully.
func (s RunState) Succeeded() bool {
	return s.Finished() && s.Conclusion == ConclusionSuccess
}

// Dispatcher triggers and observes provider runs.
type Dispatcher interface {
	// Dispatch triggers the configured workflow for the deployment and
	// returns the correlated run id.
	Dispatch(ctx context.Context, deployment domain.Deployment, cred Credential) (int64, error)
	// Status reports the current state of a run.
	Status(ctx context.Context, cred Credential, runID int64) (RunState, error)
	// Logs returns run logs, best effort.
	Logs(ctx context.Context, cred Credential, runID int64) (string, error)
	// Cancel requests upstream cancellation; false means the run was not in
	// a cancelable state.
	Cancel(ctx context.Context, cred Credential, runID int64) (bool, error)
}

// HookManager maintains the provider-side callback subscription used to push
// run completion instead of polling for it.
type HookManager interface {
	// Subscribe is idempotent: an existing hook with the expected callback
	// URL is reused.
	Subscribe(ctx context.Context, cred Credential) (int64, error)
	// Unsubscribe is best effort; failures are logged by callers, never fatal.
	Unsubscribe(ctx context.Context, cred Credential, hookID int64) error
}

// DispatchError is the gateway-style failure surfaced when workflow
// resolution, triggering, or correlation exhausted its retries.
type DispatchError struct {
	Step string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Step, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
