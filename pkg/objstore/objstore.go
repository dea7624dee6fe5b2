// Package objstore is the capability wrapper around S3-compatible buckets
// used by the catalog reconciliation.
package objstore

import (
	"context"
	"time"
)

// ObjectInfo is one current object as reported by a listing or HEAD request.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	VersionID    string
}

// ObjectVersion is one entry of a versioned listing. Delete markers are
// versions too and must be removed for a key to disappear completely.
type ObjectVersion struct {
	Key            string
	VersionID      string
	IsDeleteMarker bool
	IsLatest       bool
	LastModified   time.Time
}

// Page is one page of a whole-bucket listing. Truncated is true as long as
// more pages follow; NextToken continues the listing.
type Page struct {
	Objects   []ObjectInfo
	NextToken string
	Truncated bool
}

// DeleteError reports a single object that could not be removed.
type DeleteError struct {
	Key       string
	VersionID string
	Err       error
}

type ObjectStore interface {
	// ListPage fetches the page following token; an empty token starts at
	// the beginning of the bucket.
	ListPage(ctx context.Context, bucket, token string) (Page, error)

	// HeadObject returns an error matching ErrNotFound when the key has no
	// current version.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	ListVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error)

	// DeleteObjects returns only the failures; an empty result means every
	// requested version is gone.
	DeleteObjects(ctx context.Context, bucket string, objects []ObjectVersion) []DeleteError

	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Credentials identify a bucket and the keys allowed to access it.
type Credentials struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

func (c Credentials) Validate() error {
	if c.AccessKey == "" || c.SecretKey == "" {
		return ErrMissingCredentials
	}
	if c.Bucket == "" {
		return ErrMissingBucket
	}
	return nil
}

// Factory builds an ObjectStore for a specific set of credentials.
type Factory interface {
	New(creds Credentials) (ObjectStore, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(creds Credentials) (ObjectStore, error)

func (f FactoryFunc) New(creds Credentials) (ObjectStore, error) {
	return f(creds)
}
