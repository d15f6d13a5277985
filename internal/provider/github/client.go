// Package github implements the provider ports against the GitHub Actions
// API: workflow_dispatch triggering, run correlation, status, logs, run
// cancellation and repository webhooks.
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/nebur242/deploy-hub/internal/provider"
	"github.com/nebur242/deploy-hub/pkg/retry"
)

// Options tunes retry and correlation behaviour.
type Options struct {
	DispatchMaxRetries    int
	DispatchBaseDelay     time.Duration
	DispatchMaxDelay      time.Duration
	CorrelationMaxRetries int
	CorrelationBaseDelay  time.Duration
	// CorrelationSkew widens the created-after window to tolerate clock
	// drift between this process and the provider.
	CorrelationSkew time.Duration
	// WebhookCallbackURL receives workflow_run events.
	WebhookCallbackURL string
	WebhookSecret      string
}

func (o Options) withDefaults() Options {
	if o.DispatchMaxRetries <= 0 {
		o.DispatchMaxRetries = 3
	}
	if o.DispatchBaseDelay <= 0 {
		o.DispatchBaseDelay = time.Second
	}
	if o.DispatchMaxDelay <= 0 {
		o.DispatchMaxDelay = 30 * time.Second
	}
	if o.CorrelationMaxRetries <= 0 {
		o.CorrelationMaxRetries = 10
	}
	if o.CorrelationBaseDelay <= 0 {
		o.CorrelationBaseDelay = 3 * time.Second
	}
	if o.CorrelationSkew <= 0 {
		o.CorrelationSkew = 30 * time.Second
	}
	return o
}

var (
	_ provider.Dispatcher  = (*Adapter)(nil)
	_ provider.HookManager = (*Adapter)(nil)
)

// Adapter talks to GitHub on behalf of one process. Clients are constructed
// per call from the credential token, so rotated accounts never share state.
type Adapter struct {
	logger *slog.Logger
	opts   Options

	// newClient is swappable in tests to point at a stub server.
	newClient func(ctx context.Context, token string) *gh.Client

	now func() time.Time
}

// NewAdapter constructs an Adapter.
func NewAdapter(logger *slog.Logger, opts Options) *Adapter {
	return &Adapter{
		logger:    logger.With("component", "github"),
		opts:      opts.withDefaults(),
		newClient: newTokenClient,
		now:       time.Now,
	}
}

func newTokenClient(ctx context.Context, token string) *gh.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return gh.NewClient(oauth2.NewClient(ctx, ts))
}

func (a *Adapter) apiRetry() retry.Options {
	return retry.Options{
		MaxRetries:  uint64(a.opts.DispatchMaxRetries),
		BaseDelay:   a.opts.DispatchBaseDelay,
		MaxDelay:    a.opts.DispatchMaxDelay,
		IsRetryable: isRetryable,
	}
}

// isRetryable classifies GitHub API failures: rate limiting and 5xx retry,
// auth/not-found/validation do not, anything unidentified does.
func isRetryable(err error) bool {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
			return false
		case http.StatusTooManyRequests:
			return true
		}
		return apiErr.Response.StatusCode >= 500
	}
	return retry.DefaultRetryable(err)
}
