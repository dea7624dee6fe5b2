package rebuild

import (
	"github.com/mwantia/lakesync/pkg/db/models"
)

type Status = models.RebuildStatus

const (
	StatusOK          = models.RebuildOK
	StatusDegraded    = models.RebuildDegraded
	StatusConfigError = models.RebuildConfigError
)

type Change string

const (
	ChangeCreated Change = "created"
	ChangeUpdated Change = "updated"
	ChangeDeleted Change = "deleted"
)

// AffectedFile is one catalog record whose content changed during a pass.
// For updates and deletions File holds the record as it was before the
// pass touched it; for creations it is the new record.
type AffectedFile struct {
	File   models.File
	Change Change
}

// Result is the outcome of one reconciliation. Affected is only ever
// populated when Status is StatusOK.
type Result struct {
	Status   Status
	Affected []AffectedFile
	Attempts int
	Err      error
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Count returns how many affected files carry the given change.
func (r Result) Count(change Change) int {
	n := 0
	for _, a := range r.Affected {
		if a.Change == change {
			n++
		}
	}
	return n
}

func (r Result) Keys() []string {
	keys := make([]string, 0, len(r.Affected))
	for _, a := range r.Affected {
		keys = append(keys, a.File.Key)
	}
	return keys
}
