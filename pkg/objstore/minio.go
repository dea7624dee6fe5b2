package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultPageSize = 1000

// MinioConfig holds the connection settings shared by every account.
type MinioConfig struct {
	Endpoint string
	UseSSL   bool
	Region   string
	PageSize int
}

// MinioStore implements ObjectStore on minio-go, which speaks to AWS S3 and
// any S3-compatible server.
type MinioStore struct {
	client   *minio.Client
	core     *minio.Core
	pageSize int
	cache    *PresignCache
}

// NewMinioFactory returns a Factory creating one MinioStore per credential set.
// All stores share the given presign cache, which may be nil.
func NewMinioFactory(cfg MinioConfig, cache *PresignCache) Factory {
	return FactoryFunc(func(creds Credentials) (ObjectStore, error) {
		return NewMinioStore(cfg, creds, cache)
	})
}

func NewMinioStore(cfg MinioConfig, creds Credentials, cache *PresignCache) (*MinioStore, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("objstore: endpoint is required")
	}

	region := creds.Region
	if region == "" {
		region = cfg.Region
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKey, creds.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: failed to create client: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	return &MinioStore{
		client:   client,
		core:     &minio.Core{Client: client},
		pageSize: pageSize,
		cache:    cache,
	}, nil
}

func (s *MinioStore) ListPage(ctx context.Context, bucket, token string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	result, err := s.core.ListObjectsV2(bucket, "", "", token, "", s.pageSize)
	if err != nil {
		return Page{}, wrapError("ListPage", bucket, "", err)
	}

	page := Page{
		Objects:   make([]ObjectInfo, 0, len(result.Contents)),
		NextToken: result.NextContinuationToken,
		Truncated: result.IsTruncated,
	}
	for _, object := range result.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ETag:         strings.Trim(object.ETag, `"`),
			VersionID:    object.VersionID,
		})
	}

	if page.Truncated && page.NextToken == "" {
		return Page{}, &Error{Op: "ListPage", Bucket: bucket, Err: fmt.Errorf("truncated listing without continuation token")}
	}
	return page, nil
}

func (s *MinioStore) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, wrapError("HeadObject", bucket, key, err)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         strings.Trim(info.ETag, `"`),
		VersionID:    info.VersionID,
	}, nil
}

func (s *MinioStore) ListVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error) {
	var versions []ObjectVersion

	for object := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithVersions: true,
	}) {
		if object.Err != nil {
			return nil, wrapError("ListVersions", bucket, prefix, object.Err)
		}
		versions = append(versions, ObjectVersion{
			Key:            object.Key,
			VersionID:      object.VersionID,
			IsDeleteMarker: object.IsDeleteMarker,
			IsLatest:       object.IsLatest,
			LastModified:   object.LastModified,
		})
	}

	return versions, nil
}

func (s *MinioStore) DeleteObjects(ctx context.Context, bucket string, objects []ObjectVersion) []DeleteError {
	if len(objects) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, object := range objects {
		objectsCh <- minio.ObjectInfo{Key: object.Key, VersionID: object.VersionID}
	}
	close(objectsCh)

	var failures []DeleteError
	for result := range s.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err == nil {
			continue
		}
		failures = append(failures, DeleteError{
			Key:       result.ObjectName,
			VersionID: result.VersionID,
			Err:       wrapError("DeleteObjects", bucket, result.ObjectName, result.Err),
		})
	}

	if len(failures) < len(objects) && s.cache != nil {
		for _, object := range objects {
			s.cache.Invalidate(bucket, object.Key)
		}
	}
	return failures
}

func (s *MinioStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return s.cache.Get(ctx, bucket, key, ttl, func(ctx context.Context) (string, error) {
		u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
		if err != nil {
			return "", wrapError("PresignGet", bucket, key, err)
		}
		return u.String(), nil
	})
}
