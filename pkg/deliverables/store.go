package deliverables

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	// MaxSizeBytes is the upload cap for a single deliverable.
	MaxSizeBytes = 10 << 20

	// ContentType is the only accepted deliverable media type.
	ContentType = "application/pdf"

	stagingPrefix = "staging/"
)

// Config holds deliverable store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseTLS    bool
	Timeout   time.Duration
}

// Store keeps deliverable artifacts in object storage. Uploads from
// restricted actors land under a staging prefix and are promoted when
// their request is approved.
type Store struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	logger  ectologger.Logger
}

// NewStore creates a deliverable store backed by minio
func NewStore(cfg Config, logger ectologger.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create deliverable store client: %w", err)
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Upload stores an artifact under the staging prefix and returns its
// reference. Callers promote the object once the mutation it backs has
// committed.
func (s *Store) Upload(ctx context.Context, cycleID uuid.UUID, stepType models.StepType, fileName string, size int64, contentType string, body io.Reader) (*models.DeliverableUpload, error) {
	ctx, span := tracing.StartSpan(ctx, "deliverables.Store.Upload")
	defer span.End()

	if size <= 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "deliverable is empty")
	}
	if size > MaxSizeBytes {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("deliverable exceeds %d bytes", int64(MaxSizeBytes)))
	}
	if contentType != ContentType {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("deliverable must be %s", ContentType))
	}

	objectName := stagedObjectName(cycleID, stepType, fileName)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"object": objectName}).Error("Failed to upload deliverable")
		return nil, httperror.NewHTTPError(http.StatusBadGateway, "failed to upload deliverable")
	}

	metrics.DeliverableUploadBytes.Observe(float64(size))

	return &models.DeliverableUpload{
		FileName:   path.Base(fileName),
		SizeBytes:  size,
		StorageURL: objectName,
	}, nil
}

func stagedObjectName(cycleID uuid.UUID, stepType models.StepType, fileName string) string {
	return stagingPrefix + fmt.Sprintf("%s/%s/%s_%s", cycleID, stepType, uuid.NewString(), path.Base(fileName))
}

// Staged reports whether the reference points at a staged object.
func Staged(storageURL string) bool {
	return strings.HasPrefix(storageURL, stagingPrefix)
}

// Promote moves a staged object to its final location and returns the
// final reference. Promoting a non-staged reference is a no-op.
func (s *Store) Promote(ctx context.Context, storageURL string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "deliverables.Store.Promote")
	defer span.End()

	if !Staged(storageURL) {
		return storageURL, nil
	}
	final := strings.TrimPrefix(storageURL, stagingPrefix)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: final},
		minio.CopySrcOptions{Bucket: s.bucket, Object: storageURL},
	); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"object": storageURL}).Error("Failed to promote deliverable")
		return "", httperror.NewHTTPError(http.StatusBadGateway, "failed to promote deliverable")
	}

	if err := s.client.RemoveObject(ctx, s.bucket, storageURL, minio.RemoveObjectOptions{}); err != nil {
		// The promoted copy is authoritative; a leftover staged object is
		// only garbage.
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"object": storageURL}).Warn("Failed to remove staged deliverable")
	}

	return final, nil
}

// Remove deletes an artifact, staged or final
func (s *Store) Remove(ctx context.Context, storageURL string) error {
	ctx, span := tracing.StartSpan(ctx, "deliverables.Store.Remove")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, storageURL, minio.RemoveObjectOptions{}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"object": storageURL}).Error("Failed to remove deliverable")
		return httperror.NewHTTPError(http.StatusBadGateway, "failed to remove deliverable")
	}

	return nil
}
