package objstore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/minio/minio-go/v7"
)

var (
	ErrNotFound           = errors.New("objstore: object not found")
	ErrBucketNotFound     = errors.New("objstore: bucket not found")
	ErrAccessDenied       = errors.New("objstore: access denied")
	ErrThrottled          = errors.New("objstore: request throttled")
	ErrMissingCredentials = errors.New("objstore: access key and secret are required")
	ErrMissingBucket      = errors.New("objstore: bucket name is required")
)

// Error represents an object store failure with operation context
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("objstore: %s failed for bucket=%s, key=%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("objstore: %s failed for bucket=%s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError translates minio error responses into the package sentinels so
// callers can use errors.Is without knowing about minio.
func wrapError(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchVersion":
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	case "NoSuchBucket":
		err = fmt.Errorf("%w: %v", ErrBucketNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		err = fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case "SlowDown", "TooManyRequests", "RequestLimitExceeded":
		err = fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// IsNotFound checks if the error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether retrying the same request may succeed:
// throttling, 5xx responses, timeouts and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound) || errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrMissingBucket) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "RequestTimeout", "InternalError", "ServiceUnavailable", "SlowDown":
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == 429
}
