package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const defaultMaxObjectBytes = 4 << 20

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errInvalidScheme = errors.New("storage: object url must use the gs scheme")

	// ErrObjectNotFound is returned when the bucket or object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrObjectTooLarge is returned when an object exceeds the reader's size limit.
	ErrObjectTooLarge = errors.New("storage: object exceeds size limit")
)

// ObjectOpener opens a Cloud Storage object for reading.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// Reader downloads small objects such as catalog documents from Cloud Storage.
type Reader struct {
	open     ObjectOpener
	closeFn  func() error
	maxBytes int64
}

// ReaderOption customises reader behaviour.
type ReaderOption func(*Reader)

// WithMaxBytes caps the number of bytes read from a single object.
func WithMaxBytes(n int64) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithOpener replaces the object opener.
func WithOpener(open ObjectOpener) ReaderOption {
	return func(r *Reader) {
		if open != nil {
			r.open = open
		}
	}
}

// NewReader constructs a Reader backed by a Cloud Storage client created
// lazily from opts. Supplying WithOpener skips client construction.
func NewReader(ctx context.Context, clientOpts []option.ClientOption, opts ...ReaderOption) (*Reader, error) {
	reader := &Reader{maxBytes: defaultMaxObjectBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(reader)
		}
	}
	if reader.open != nil {
		return reader, nil
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	reader.closeFn = client.Close
	reader.open = func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
		}
		return rc, err
	}
	return reader, nil
}

// ReadURL fetches the object addressed by a gs://bucket/object URL.
func (r *Reader) ReadURL(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, object, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}
	return r.ReadObject(ctx, bucket, object)
}

// ReadObject fetches bucket/object fully into memory.
func (r *Reader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	if r == nil || r.open == nil {
		return nil, errors.New("storage reader: client is not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if object == "" {
		return nil, errInvalidObject
	}

	rc, err := r.open(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read gs://%s/%s: %w", bucket, object, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectTooLarge, bucket, object)
	}
	return data, nil
}

// Close releases the underlying client when the reader created it.
func (r *Reader) Close() error {
	if r == nil || r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

// IsObjectURL reports whether raw addresses a Cloud Storage object.
func IsObjectURL(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "gs://")
}

// ParseObjectURL splits gs://bucket/path/to/object into its bucket and object name.
func ParseObjectURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("storage: invalid object url %q: %w", raw, err)
	}
	if u.Scheme != "gs" {
		return "", "", errInvalidScheme
	}
	bucket := strings.TrimSpace(u.Host)
	object := strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", errInvalidBucket
	}
	if object == "" {
		return "", "", errInvalidObject
	}
	for _, segment := range strings.Split(object, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", "", fmt.Errorf("storage: invalid object path %q", object)
		}
	}
	return bucket, object, nil
}
