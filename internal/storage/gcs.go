package storage

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSStore writes objects to one bucket. Refs look like gs://bucket/key.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a client. credentialsFile may be empty to use the
// ambient application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "gcs client")
	}
	return &GCSStore{client: c, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", errors.Wrap(err, "gcs write")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "gcs close")
	}
	return "gs://" + s.bucket + "/" + key, nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, ok := strings.CutPrefix(ref, "gs://"+s.bucket+"/")
	if !ok {
		return nil, errors.Errorf("ref %q is not in bucket %s", ref, s.bucket)
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gcs open")
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	return b, errors.Wrap(err, "gcs read")
}

// Close releases the client.
func (s *GCSStore) Close() error { return s.client.Close() }
