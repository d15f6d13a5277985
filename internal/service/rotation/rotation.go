// Package rotation orders a project's provider credential pool for
// round-robin use across dispatches. Selection always takes the head of the
// ordered list; the ordering spreads load across configured accounts rather
// than retrying within a single dispatch.
package rotation

import "github.com/nebur242/deploy-hub/internal/domain"

// Order rotates accounts so iteration starts at the credential after the one
// used by the most recent deployment. With zero or one account, or no usable
// history, the configured order is returned unchanged.
func Order(accounts []domain.GithubAccount, recent []domain.Deployment) []domain.GithubAccount {
	if len(accounts) <= 1 {
		return accounts
	}
	last := lastUsedUsername(recent)
	if last == "" {
		return accounts
	}
	return rotateAfter(accounts, last)
}

// OrderForRetry rotates the pool to start after the account that just failed,
// skipping it for one cycle. When the failed account is not in the pool the
// plain rotation applies.
func OrderForRetry(accounts []domain.GithubAccount, recent []domain.Deployment, failedUsername string) []domain.GithubAccount {
	if len(accounts) <= 1 {
		return accounts
	}
	if indexOf(accounts, failedUsername) < 0 {
		return Order(accounts, recent)
	}
	rotated := rotateAfter(accounts, failedUsername)
	// The failed account ends up at the tail after rotation; drop it for
	// this cycle so the next dispatch cannot pick it up again.
	out := make([]domain.GithubAccount, 0, len(rotated)-1)
	for _, account := range rotated {
		if account.Username == failedUsername {
			continue
		}
		out = append(out, account)
	}
	return out
}

func lastUsedUsername(recent []domain.Deployment) string {
	for _, d := range recent {
		if d.GithubAccount != nil && d.GithubAccount.Username != "" {
			return d.GithubAccount.Username
		}
	}
	return ""
}

func rotateAfter(accounts []domain.GithubAccount, username string) []domain.GithubAccount {
	idx := indexOf(accounts, username)
	if idx < 0 {
		return accounts
	}
	start := (idx + 1) % len(accounts)
	out := make([]domain.GithubAccount, 0, len(accounts))
	for i := 0; i < len(accounts); i++ {
		out = append(out, accounts[(start+i)%len(accounts)])
	}
	return out
}

func indexOf(accounts []domain.GithubAccount, username string) int {
	for i, account := range accounts {
		if account.Username == username {
			return i
		}
	}
	return -1
}
