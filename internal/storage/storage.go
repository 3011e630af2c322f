// Package storage keeps signature images in an object store. Google Cloud
// Storage is used when a bucket is configured, a local directory
// otherwise.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// BlobStore saves and loads opaque objects by key. The returned ref is
// what gets stored on the repair row.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// MaxSignatureBytes bounds an uploaded signature image.
const MaxSignatureBytes = 2 << 20

// SignatureKind tells intake and completion signatures apart.
type SignatureKind string

const (
	SignatureIntake     SignatureKind = "intake"
	SignatureCompletion SignatureKind = "completion"
)

// SignatureKey is the object key of a signature image.
func SignatureKey(repairID string, kind SignatureKind, at time.Time) string {
	return fmt.Sprintf("signatures/%s/%s-%d.png", repairID, kind, at.UTC().UnixNano())
}

// CheckImage rejects empty, oversized and non-image uploads and returns
// the detected content type.
func CheckImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.Wrap(model.ErrSignatureMissing, "empty image")
	}
	if len(data) > MaxSignatureBytes {
		return "", errors.Wrapf(model.ErrInvalidInput, "image is %d bytes", len(data))
	}
	ct := http.DetectContentType(data)
	switch ct {
	case "image/png", "image/jpeg", "image/webp":
		return ct, nil
	}
	return "", errors.Wrapf(model.ErrInvalidInput, "content type %s is not an image", ct)
}

// SaveSignature checks and stores a signature image.
func SaveSignature(ctx context.Context, store BlobStore, repairID string, kind SignatureKind, data []byte) (string, error) {
	ct, err := CheckImage(data)
	if err != nil {
		return "", err
	}
	ref, err := store.Put(ctx, SignatureKey(repairID, kind, time.Now()), ct, data)
	if err != nil {
		return "", errors.Wrapf(model.ErrPersistenceFailed, "store %s signature: %v", kind, err)
	}
	return ref, nil
}
