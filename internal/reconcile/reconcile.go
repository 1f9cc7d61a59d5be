// Package reconcile audits stored user balances against the transaction
// history on a schedule. Balance writes commit atomically with transaction
// writes, so drift signals either manual database edits or a bug; the
// auditor repairs it and logs loudly.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"expenser/internal/repository"
)

type Auditor struct {
	repo   *repository.SQLiteRepository
	logger *slog.Logger
	cron   *cron.Cron
}

func NewAuditor(repo *repository.SQLiteRepository, logger *slog.Logger) *Auditor {
	return &Auditor{repo: repo, logger: logger}
}

// Start schedules the audit with a cron spec ("@every 1h", "0 3 * * *", ...).
func (a *Auditor) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := a.RunOnce(ctx); err != nil {
			a.logger.ErrorContext(ctx, "balance audit failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule balance audit: %w", err)
	}

	c.Start()
	a.cron = c
	a.logger.InfoContext(ctx, "balance auditor started", "schedule", schedule)
	return nil
}

func (a *Auditor) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// RunOnce audits every user and returns how many needed repair.
func (a *Auditor) RunOnce(ctx context.Context) (int, error) {
	userIDs, err := a.repo.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	repaired := 0
	for _, userID := range userIDs {
		fixed, err := a.auditUser(ctx, userID)
		if err != nil {
			a.logger.ErrorContext(ctx, "user audit failed", "user_id", userID, "error", err)
			continue
		}
		if fixed {
			repaired++
		}
	}

	a.logger.InfoContext(ctx, "balance audit completed", "users", len(userIDs), "repaired", repaired)
	return repaired, nil
}

func (a *Auditor) auditUser(ctx context.Context, userID string) (bool, error) {
	profile, err := a.repo.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}

	computed, err := a.repo.ComputeBalances(ctx, userID)
	if err != nil {
		return false, err
	}

	if profile.Balances.Equal(computed) {
		return false, nil
	}

	a.logger.WarnContext(ctx, "balance drift detected, repairing",
		"user_id", userID,
		"stored_bank", profile.Balances.Bank,
		"computed_bank", computed.Bank)

	if err := a.repo.SetBalances(ctx, userID, computed); err != nil {
		return false, err
	}
	return true, nil
}
