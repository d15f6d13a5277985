package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v62/github"

	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/pkg/retry"
)

// Subscribe ensures a workflow_run webhook pointing at the configured
// callback exists on the credential's repository. An existing hook with a
// matching callback URL is reused rather than duplicated.
func (a *Adapter) Subscribe(ctx context.Context, cred provider.Credential) (int64, error) {
	if a.opts.WebhookCallbackURL == "" {
		return 0, fmt.Errorf("no webhook callback url configured")
	}
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return 0, err
	}
	client := a.newClient(ctx, cred.Token)

	hooks, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) ([]*gh.Hook, error) {
		list, _, err := client.Repositories.ListHooks(ctx, owner, repo, &gh.ListOptions{PerPage: 100})
		return list, err
	})
	if err != nil {
		return 0, fmt.Errorf("list hooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.GetConfig().GetURL() == a.opts.WebhookCallbackURL {
			a.logger.Info("reusing existing webhook", "owner", owner, "repo", repo, "hook_id", hook.GetID())
			return hook.GetID(), nil
		}
	}

	created, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (*gh.Hook, error) {
		hook, _, err := client.Repositories.CreateHook(ctx, owner, repo, &gh.Hook{
			Active: gh.Bool(true),
			Events: []string{"workflow_run"},
			Config: &gh.HookConfig{
				URL:         gh.String(a.opts.WebhookCallbackURL),
				ContentType: gh.String("json"),
				Secret:      gh.String(a.opts.WebhookSecret),
			},
		})
		return hook, err
	})
	if err != nil {
		return 0, fmt.Errorf("create hook: %w", err)
	}
	a.logger.Info("webhook created", "owner", owner, "repo", repo, "hook_id", created.GetID())
	return created.GetID(), nil
}

// Unsubscribe deletes a previously created hook.
func (a *Adapter) Unsubscribe(ctx context.Context, cred provider.Credential, hookID int64) error {
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return err
	}
	client := a.newClient(ctx, cred.Token)
	_, _, err = retry.Do(ctx, a.apiRetry(), func(ctx context.Context) (struct{}, error) {
		_, err := client.Repositories.DeleteHook(ctx, owner, repo, hookID)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("delete hook %d: %w", hookID, err)
	}
	return nil
}
