package rebuild

import (
	"context"
	"fmt"

	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
)

// Invalidator flags the sources whose matched files changed.
type Invalidator struct {
	catalog store.CatalogStore
	logger  log.LoggerService
}

func NewInvalidator(catalog store.CatalogStore, logger log.LoggerService) *Invalidator {
	return &Invalidator{
		catalog: catalog,
		logger:  logger,
	}
}

// MarkDirty sets do_update on every source of the account that matches at
// least one affected file and returns the newly dirtied sources. All flags
// are persisted together or not at all.
func (i *Invalidator) MarkDirty(ctx context.Context, accountID string, affected []AffectedFile) (int, []models.Source, error) {
	if len(affected) == 0 {
		return 0, nil, nil
	}

	sources, err := i.catalog.ListSources(ctx, accountID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		return 0, nil, nil
	}

	files, err := i.catalog.ListAccountFiles(ctx, accountID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list files: %w", err)
	}

	affectedKeys := make(map[string]struct{}, len(affected))
	inCatalog := make(map[string]struct{}, len(files))
	for _, file := range files {
		inCatalog[file.Key] = struct{}{}
	}

	// Deleted records are gone from the catalog but still count for the
	// sources that used to match them.
	candidates := files
	for _, a := range affected {
		affectedKeys[a.File.Key] = struct{}{}
		if _, ok := inCatalog[a.File.Key]; !ok {
			candidates = append(candidates, a.File)
			inCatalog[a.File.Key] = struct{}{}
		}
	}

	var (
		ids     []uint
		dirtied []models.Source
	)
	for _, source := range sources {
		if source.DoUpdate || !intersects(MatchFiles(candidates, FilterOf(&source)), affectedKeys) {
			continue
		}
		source.DoUpdate = true
		ids = append(ids, source.ID)
		dirtied = append(dirtied, source)
	}

	if len(ids) == 0 {
		return 0, nil, nil
	}
	if err := i.catalog.MarkSourcesDirty(ctx, ids); err != nil {
		return 0, nil, fmt.Errorf("failed to mark %d source(s) dirty: %w", len(ids), err)
	}

	sourcesDirtiedTotal.Add(float64(len(ids)))
	i.logger.Debug("Marked %d source(s) of account '%s' for refresh", len(ids), accountID)
	return len(ids), dirtied, nil
}

func intersects(files []models.File, keys map[string]struct{}) bool {
	for _, file := range files {
		if _, ok := keys[file.Key]; ok {
			return true
		}
	}
	return false
}
