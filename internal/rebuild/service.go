package rebuild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
)

const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerUpload   = "upload"
	TriggerSchedule = "schedule"
)

// Refresher hands dirty sources to the aggregation pipeline.
type Refresher interface {
	RefreshDirty(ctx context.Context, account *models.Account) (int, error)
}

// Outcome summarizes one rebuild of an account.
type Outcome struct {
	Result    Result
	Dirtied   int
	Sources   []models.Source
	Refreshed int
	Run       *models.RebuildRun
}

// Service chains reconciliation, invalidation, usage bookkeeping and the
// optional refresh trigger for one account.
type Service struct {
	catalog     store.CatalogStore
	reconciler  *Reconciler
	invalidator *Invalidator
	refresher   Refresher
	logger      log.LoggerService
	now         func() time.Time
}

func NewService(catalog store.CatalogStore, reconciler *Reconciler, invalidator *Invalidator, refresher Refresher, logger log.LoggerService) *Service {
	return &Service{
		catalog:     catalog,
		reconciler:  reconciler,
		invalidator: invalidator,
		refresher:   refresher,
		logger:      logger,
		now:         time.Now,
	}
}

// Rebuild reconciles the whole bucket of an account.
func (s *Service) Rebuild(ctx context.Context, accountID, trigger string) (*Outcome, error) {
	return s.execute(ctx, accountID, trigger, store.UsageDelta{Pings: 1}, func(account *models.Account) Result {
		return s.reconciler.Reconcile(ctx, account)
	})
}

// Notify refreshes only the given keys of an account.
func (s *Service) Notify(ctx context.Context, accountID string, keys []string) (*Outcome, error) {
	return s.execute(ctx, accountID, TriggerUpload, store.UsageDelta{}, func(account *models.Account) Result {
		return s.reconciler.UpdateKeys(ctx, account, keys)
	})
}

// RebuildAll rebuilds every account one after another.
func (s *Service) RebuildAll(ctx context.Context, trigger string) error {
	accounts, err := s.catalog.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	var errs []error
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		outcome, err := s.Rebuild(ctx, account.ID, trigger)
		if err != nil {
			errs = append(errs, fmt.Errorf("account '%s': %w", account.ID, err))
			continue
		}
		if !outcome.Result.OK() {
			errs = append(errs, fmt.Errorf("account '%s': rebuild %s: %w", account.ID, outcome.Result.Status, outcome.Result.Err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) execute(ctx context.Context, accountID, trigger string, usage store.UsageDelta, reconcile func(*models.Account) Result) (*Outcome, error) {
	account, err := s.catalog.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	run := &models.RebuildRun{
		AccountID: account.ID,
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}

	outcome := &Outcome{Result: reconcile(account), Run: run}
	result := outcome.Result

	run.Status = result.Status
	run.Attempts = result.Attempts
	run.FilesCreated = result.Count(ChangeCreated)
	run.FilesUpdated = result.Count(ChangeUpdated)
	run.FilesDeleted = result.Count(ChangeDeleted)
	if result.Err != nil {
		run.LastError = result.Err.Error()
	}

	if result.OK() {
		outcome.Dirtied, outcome.Sources, err = s.invalidator.MarkDirty(ctx, account.ID, result.Affected)
		if err != nil {
			s.logger.Error("Unable to mark sources of account '%s' dirty: %v", account.ID, err)
			run.LastError = err.Error()
		}
		run.SourcesDirtied = outcome.Dirtied

		if trigger == TriggerUpload {
			usage.Uploads = int64(run.FilesCreated + run.FilesUpdated)
		}

		if s.refresher != nil {
			outcome.Refreshed, err = s.refresher.RefreshDirty(ctx, account)
			if err != nil {
				s.logger.Error("Unable to refresh sources of account '%s': %v", account.ID, err)
			}
			usage.Refreshes = int64(outcome.Refreshed)
		}
	}

	if !usage.IsZero() {
		if err := s.catalog.ApplyUsage(ctx, account.ID, usage); err != nil {
			s.logger.Warn("Unable to apply usage of account '%s': %v", account.ID, err)
		}
	}

	run.CompletedAt = s.now().UTC()
	if err := s.catalog.CreateRebuildRun(ctx, run); err != nil {
		s.logger.Warn("Unable to record rebuild run of account '%s': %v", account.ID, err)
	}

	s.logger.Info("Rebuild of account '%s' (%s) finished with status '%s': %d created, %d updated, %d deleted, %d source(s) dirtied",
		account.ID, trigger, run.Status, run.FilesCreated, run.FilesUpdated, run.FilesDeleted, run.SourcesDirtied)
	return outcome, nil
}
