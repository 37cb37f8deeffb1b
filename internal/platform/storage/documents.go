package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	maxSignedURLExpiry     = time.Hour
)

var (
	errNoClient      = errors.New("storage: client is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errEmptyPayload  = errors.New("storage: payload is empty")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
)

// DocumentStore persists generated documents in a Cloud Storage bucket and
// produces URLs for retrieving them.
type DocumentStore struct {
	client *storage.Client
	bucket string
	signer Signer
	now    func() time.Time
}

// DocumentStoreOption customises DocumentStore behaviour.
type DocumentStoreOption func(*DocumentStore)

// WithSigner enables signed download URLs using the provided signer.
func WithSigner(signer Signer) DocumentStoreOption {
	return func(s *DocumentStore) {
		s.signer = signer
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) DocumentStoreOption {
	return func(s *DocumentStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewDocumentStore constructs a DocumentStore writing into the named bucket.
func NewDocumentStore(client *storage.Client, bucket string, opts ...DocumentStoreOption) (*DocumentStore, error) {
	if client == nil {
		return nil, errNoClient
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}

	store := &DocumentStore{
		client: client,
		bucket: bucket,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put writes the payload to the named object and returns its canonical URL.
func (s *DocumentStore) Put(ctx context.Context, object, contentType string, payload []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", errNoClient
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}
	if len(payload) == 0 {
		return "", errEmptyPayload
	}

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: finalise object %s: %w", object, err)
	}

	return s.ObjectURL(object), nil
}

// CanSign reports whether the store was configured with a usable signer.
func (s *DocumentStore) CanSign() bool {
	return s != nil && s.signer != nil && strings.TrimSpace(s.signer.Email()) != ""
}

// ObjectURL returns the canonical HTTPS URL for an object in the bucket.
func (s *DocumentStore) ObjectURL(object string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, url.PathEscape(object))
}

// SignedDownloadURL produces a time-limited GET URL for the object. A signer
// must have been configured.
func (s *DocumentStore) SignedDownloadURL(ctx context.Context, object string, expiresIn time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errNoClient
	}
	if s.signer == nil || strings.TrimSpace(s.signer.Email()) == "" {
		return "", errors.New("storage: signer is required for signed URLs")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}
	if expiresIn <= 0 {
		expiresIn = defaultSignedURLExpiry
	}
	if expiresIn > maxSignedURLExpiry {
		return "", errExpiryTooLong
	}

	opts := storage.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(expiresIn),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	}

	signedURL, err := storage.SignedURL(s.bucket, object, &opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signedURL, nil
}
