package github

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v62/github"

	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/pkg/retry"
)

const maxLogArchiveBytes = 8 << 20

// Logs fetches run logs best effort: the raw log archive first, a job and
// step summary when the archive cannot be retrieved. Callers treat the result
// as opaque text, so a summary is an acceptable degradation.
func (a *Adapter) Logs(ctx context.Context, cred provider.Credential, runID int64) (string, error) {
	owner, repo, err := cred.SplitRepository()
	if err != nil {
		return "", err
	}

	raw, rawErr := a.fetchLogArchive(ctx, cred.Token, owner, repo, runID)
	if rawErr == nil {
		return raw, nil
	}
	a.logger.Warn("raw log retrieval failed, falling back to step summary",
		"run_id", runID, "error", rawErr)

	client := a.newClient(ctx, cred.Token)
	jobs, _, err := retry.Do(ctx, a.apiRetry(), func(ctx context.Context) ([]*gh.WorkflowJob, error) {
		list, _, err := client.Actions.ListWorkflowJobs(ctx, owner, repo, runID, &gh.ListWorkflowJobsOptions{
			ListOptions: gh.ListOptions{PerPage: 100},
		})
		if err != nil {
			return nil, err
		}
		return list.Jobs, nil
	})
	if err != nil {
		return "", fmt.Errorf("list jobs for run %d: %w", runID, err)
	}
	return renderJobSummary(jobs), nil
}

// fetchLogArchive downloads the zipped run logs and concatenates the entries
// in file order. The API answers with a redirect to short-lived storage; the
// default client follows it and drops the auth header across hosts.
func (a *Adapter) fetchLogArchive(ctx context.Context, token, owner, repo string, runID int64) (string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/runs/%d/logs", owner, repo, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("log archive request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogArchiveBytes))
	if err != nil {
		return "", err
	}
	reader, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open log archive: %w", err)
	}

	names := make([]string, 0, len(reader.File))
	byName := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".txt") {
			continue
		}
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		rc, err := byName[name].Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxLogArchiveBytes))
		rc.Close()
		if err != nil {
			continue
		}
		sb.Write(content)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("log archive for run %d was empty", runID)
	}
	return sb.String(), nil
}

func renderJobSummary(jobs []*gh.WorkflowJob) string {
	if len(jobs) == 0 {
		return "no jobs reported for this run"
	}
	var sb strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&sb, "job %q: %s", job.GetName(), job.GetStatus())
		if job.GetConclusion() != "" {
			fmt.Fprintf(&sb, " (%s)", job.GetConclusion())
		}
		sb.WriteByte('\n')
		for _, step := range job.Steps {
			fmt.Fprintf(&sb, "  step %d %q: %s", step.GetNumber(), step.GetName(), step.GetStatus())
			if step.GetConclusion() != "" {
				fmt.Fprintf(&sb, " (%s)", step.GetConclusion())
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
