package rebuild

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCredentials = errors.New("rebuild: account has no credentials or bucket")
	ErrNoFiles            = errors.New("rebuild: no files to delete")
	ErrInvalidCallback    = errors.New("rebuild: invalid aggregation callback")
)

// PartialDeletionError lists the files a delete batch had to skip.
type PartialDeletionError struct {
	Keys    []string
	Total   int
	Deleted int
	Err     error
}

func (e *PartialDeletionError) Error() string {
	return fmt.Sprintf("rebuild: failed to delete %d of %d files (%s): %v",
		len(e.Keys), e.Total, strings.Join(e.Keys, ", "), e.Err)
}

func (e *PartialDeletionError) Unwrap() error {
	return e.Err
}
