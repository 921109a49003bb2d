package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/utils"
)

// Archiver keeps a copy of activity entries before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, entries []models.ActivityLogEntry) error
}

// NoopArchiver discards entries.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, []models.ActivityLogEntry) error { return nil }

// objectPutter is the subset of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes activity entries to S3 as one JSON Lines object per call.
type S3Archiver struct {
	client  objectPutter
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Archiver creates an archiver using the default AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket, region, prefix, podName string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3Archiver(s3.NewFromConfig(cfg), bucket, prefix, podName), nil
}

func newS3Archiver(client objectPutter, bucket, prefix, podName string) *S3Archiver {
	if podName == "" {
		podName = "gateway"
	}
	return &S3Archiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-archiver"),
	}
}

// objectKey formats e.g. activity/2025/11/30/gateway-0-20251130-143022-123456789.jsonl
func (a *S3Archiver) objectKey() string {
	now := a.now().UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)
}

func (a *S3Archiver) Archive(ctx context.Context, entries []models.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", entries[i].ID, err)
		}
	}

	key := a.objectKey()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived activity log", "key", key, "count", len(entries), "bytes", buf.Len())
	return nil
}
