// Package refresh hands dirty sources to the external aggregation worker.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
)

const DefaultSendTimeout = 2 * time.Second

// Job is the payload posted to the aggregation worker.
type Job struct {
	Name            string   `json:"name"`
	ID              uint     `json:"id"`
	DirectoryFilter string   `json:"directory_filter"`
	IncludeSubdirs  bool     `json:"include_subdirs"`
	IncludeColumns  []string `json:"include_columns"`
	DataPoints      int      `json:"data_points"`
	TailOnly        bool     `json:"tail_only"`
	AccountURL      string   `json:"account_url"`
}

type Config struct {
	WorkerURL   string
	AccountURL  string
	SendTimeout time.Duration
}

// Trigger posts refresh jobs without waiting for their outcome. The worker
// reports back through the aggregation callback.
type Trigger struct {
	catalog store.CatalogStore
	logger  log.LoggerService
	client  *http.Client
	cfg     Config
}

func NewTrigger(catalog store.CatalogStore, logger log.LoggerService, cfg Config) *Trigger {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	return &Trigger{
		catalog: catalog,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.SendTimeout},
		cfg:     cfg,
	}
}

func (t *Trigger) Enabled() bool {
	return t != nil && t.cfg.WorkerURL != ""
}

// RefreshDirty starts every dirty source of the account that is not already
// running and returns how many jobs were handed to the worker.
func (t *Trigger) RefreshDirty(ctx context.Context, account *models.Account) (int, error) {
	if !t.Enabled() {
		return 0, nil
	}

	sources, err := t.catalog.ListDirtySources(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list dirty sources: %w", err)
	}

	started := 0
	for i := range sources {
		source := &sources[i]
		if err := source.Start(); err != nil {
			t.logger.Debug("Skipping source %d: %v", source.ID, err)
			continue
		}
		if err := t.catalog.UpdateSource(ctx, source); err != nil {
			return started, fmt.Errorf("failed to start source %d: %w", source.ID, err)
		}
		started++

		err := t.send(ctx, t.jobFor(account, source))
		switch {
		case err == nil:
			t.logger.Debug("Sent refresh job for source %d", source.ID)
		case isTimeout(err):
			t.logger.Debug("Refresh job for source %d sent without waiting for the worker", source.ID)
		default:
			t.logger.Warn("Failed to send refresh job for source %d: %v", source.ID, err)
			if ferr := source.Fail(err.Error()); ferr == nil {
				if uerr := t.catalog.UpdateSource(ctx, source); uerr != nil {
					t.logger.Error("Failed to persist error state of source %d: %v", source.ID, uerr)
				}
			}
		}
	}

	return started, nil
}

func (t *Trigger) jobFor(account *models.Account, source *models.Source) Job {
	return Job{
		Name:            source.Name,
		ID:              source.ID,
		DirectoryFilter: source.DirectoryFilter,
		IncludeSubdirs:  source.IncludeSubdirs,
		IncludeColumns:  source.Columns(),
		DataPoints:      source.DataPoints,
		TailOnly:        source.TailOnly,
		AccountURL:      fmt.Sprintf("%s/api/v1/accounts/%s", strings.TrimSuffix(t.cfg.AccountURL, "/"), account.ID),
	}
}

func (t *Trigger) send(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.WorkerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker responded with status %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
