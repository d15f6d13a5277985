package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	gh "github.com/google/go-github/v62/github"

	"github.com/nebur242/deploy-hub/pkg/retry"
)

// knownWorkflowNames are common filenames projects use for their deploy
// workflow, tried when the configured name matches nothing.
var knownWorkflowNames = []string{
	"deploy.yml",
	"deploy.yaml",
	"deployment.yml",
	"main.yml",
	"ci.yml",
}

// resolveWorkflow finds the workflow id for the configured filename. The
// configured value is user-entered free text, so resolution cascades from
// exact match down to name heuristics before giving up.
func (a *Adapter) resolveWorkflow(ctx context.Context, client *gh.Client, owner, repo, configured string) (int64, error) {
	workflows, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) ([]*gh.Workflow, error) {
		list, _, err := client.Actions.ListWorkflows(ctx, owner, repo, &gh.ListOptions{PerPage: 100})
		if err != nil {
			return nil, err
		}
		return list.Workflows, nil
	})
	if err != nil {
		return 0, fmt.Errorf("list workflows: %w", err)
	}
	workflow := pickWorkflow(workflows, configured)
	if workflow == nil {
		return 0, fmt.Errorf("workflow %q not found in %s/%s", configured, owner, repo)
	}
	return workflow.GetID(), nil
}

// pickWorkflow applies the resolution cascade over the repository's workflow
// list: exact path, filename suffix, known deploy filenames, only-workflow
// shortcut, then a deploy/dispatch name heuristic.
func pickWorkflow(workflows []*gh.Workflow, configured string) *gh.Workflow {
	if len(workflows) == 0 {
		return nil
	}
	configured = strings.TrimSpace(configured)

	if configured != "" {
		for _, w := range workflows {
			if w.GetPath() == configured {
				return w
			}
		}
		for _, w := range workflows {
			if path.Base(w.GetPath()) == path.Base(configured) {
				return w
			}
		}
	}
	for _, known := range knownWorkflowNames {
		for _, w := range workflows {
			if path.Base(w.GetPath()) == known {
				return w
			}
		}
	}
	if len(workflows) == 1 {
		return workflows[0]
	}
	for _, w := range workflows {
		name := strings.ToLower(w.GetName())
		if strings.Contains(name, "deploy") || strings.Contains(name, "dispatch") {
			return w
		}
	}
	return nil
}
