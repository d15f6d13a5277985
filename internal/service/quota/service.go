// Package quota enforces the deployment ceilings attached to licenses.
// Project owners consume the subscription pool, other requesters consume
// their per-user grant.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/event"
	"github.com/nebur242/deploy-hub/internal/repository"
)

var (
	// ErrExceeded means the applicable pool has no deployments left.
	ErrExceeded = errors.New("quota: deployment limit reached")
	// ErrNoLicense means the requester has no usable license or grant.
	ErrNoLicense = errors.New("quota: no active license")
)

// Service checks and consumes deployment quota.
type Service struct {
	licenses repository.LicenseRepository
	logger   *slog.Logger

	now func() time.Time
}

// New constructs a quota service.
func New(licenses repository.LicenseRepository, logger *slog.Logger) *Service {
	return &Service{
		licenses: licenses,
		logger:   logger.With("component", "quota"),
		now:      time.Now,
	}
}

// Check validates the requester may start one more deployment. It returns the
// user-license id the consumption should be booked against, empty for owners.
func (s *Service) Check(ctx context.Context, license *domain.License, userID, ownerID string) (userLicenseID string, err error) {
	if license == nil || !license.Usable(s.now()) {
		return "", ErrNoLicense
	}
	if userID == ownerID {
		if license.MaxDeployments > 0 && license.DeploymentsUsed >= license.MaxDeployments {
			return "", ErrExceeded
		}
		return "", nil
	}

	grant, err := s.licenses.GetUserLicense(ctx, userID, license.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNoLicense
		}
		return "", err
	}
	if !grant.Usable(s.now()) {
		return "", ErrNoLicense
	}
	if grant.MaxDeployments > 0 && grant.DeploymentsUsed >= grant.MaxDeployments {
		return "", ErrExceeded
	}
	return grant.ID, nil
}

// HandleEvent consumes quota for created deployments. Registered on the event
// bus so accounting stays out of the orchestrator's critical path.
func (s *Service) HandleEvent(ctx context.Context, evt event.Event) {
	if evt.Kind != event.DeploymentCreated {
		return
	}
	d := evt.Deployment
	if d.IsTest {
		return
	}
	var err error
	if d.UserLicenseID != nil && *d.UserLicenseID != "" {
		err = s.licenses.IncrementUserLicenseUsage(ctx, *d.UserLicenseID)
	} else if d.LicenseID != "" {
		err = s.licenses.IncrementLicenseUsage(ctx, d.LicenseID)
	}
	if err != nil {
		s.logger.Error("quota increment failed", "deployment_id", d.ID, "license_id", d.LicenseID, "error", err)
	}
}
