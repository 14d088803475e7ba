// Package s3 implements an append-only S3 loader that stages records as
// gzip-compressed JSONL parts under Hive-style partition prefixes:
//
//	{prefix}/study_id={id}/ingestion_date={date}/part-{seq}-{nanos}.jsonl.gz
//
// Parts upload as batches fill and at Commit. Uploads are never deleted on
// Abort; downstream tables are expected to treat the bucket as append-only
// raw storage.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
	"github.com/sensorcloud/centrepoint-sync/pkg/loader"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// uploaderAPI is the slice of manager.Uploader the loader uses. Tests swap in
// a fake.
type uploaderAPI interface {
	Upload(ctx context.Context, input *awss3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Loader stages records into per-partition gzip JSONL buffers and uploads
// them as parts.
type Loader struct {
	bucket    string
	prefix    string
	region    string
	batchSize int
	logger    *zap.Logger

	uploader uploaderAPI
	s3Client *awss3.Client

	parts   map[string]*partBuffer
	partSeq int
	aborted bool
}

// partBuffer accumulates one in-flight part for a partition.
type partBuffer struct {
	buf   bytes.Buffer
	gz    *gzip.Writer
	count int
}

// New creates an S3 loader from destination options. Required option:
// bucket. Optional: prefix, region.
func New(cfg config.DestinationConfig, logger *zap.Logger) (loader.Loader, error) {
	bucket := cfg.Options["bucket"]
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 loader requires a bucket option")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}

	return &Loader{
		bucket:    bucket,
		prefix:    cfg.Options["prefix"],
		region:    cfg.Options["region"],
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "s3_loader")),
		parts:     make(map[string]*partBuffer),
	}, nil
}

// Open loads AWS configuration and verifies bucket access.
func (l *Loader) Open(ctx context.Context) error {
	if l.uploader != nil {
		return nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if l.region != "" {
		opts = append(opts, awsconfig.WithRegion(l.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	l.s3Client = awss3.NewFromConfig(cfg)
	l.uploader = manager.NewUploader(l.s3Client)

	if _, err := l.s3Client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: &l.bucket}); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "cannot access bucket %s", l.bucket)
	}
	return nil
}

// Write stages records, flushing any partition whose part reaches the batch
// size.
func (l *Loader) Write(ctx context.Context, records []*models.Record) error {
	if l.aborted {
		return errors.New(errors.ErrorTypeState, "loader is aborted")
	}

	for _, r := range records {
		key := partitionKey(r)
		part := l.parts[key]
		if part == nil {
			part = &partBuffer{}
			part.gz = gzip.NewWriter(&part.buf)
			l.parts[key] = part
		}

		line, err := gojson.Marshal(r.Row())
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
		}
		if _, err := part.gz.Write(append(line, '\n')); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress record")
		}
		part.count++

		if part.count >= l.batchSize {
			if err := l.flushPart(ctx, key, part); err != nil {
				return err
			}
			delete(l.parts, key)
		}
	}
	return nil
}

// Commit uploads all remaining staged parts.
func (l *Loader) Commit(ctx context.Context) error {
	if l.aborted {
		return errors.New(errors.ErrorTypeState, "loader is aborted")
	}

	for key, part := range l.parts {
		if part.count == 0 {
			continue
		}
		if err := l.flushPart(ctx, key, part); err != nil {
			return err
		}
	}
	l.parts = make(map[string]*partBuffer)
	return nil
}

// Abort drops staged parts. Parts already uploaded stay in the bucket.
func (l *Loader) Abort(ctx context.Context) error {
	l.aborted = true
	l.parts = make(map[string]*partBuffer)
	return nil
}

// Close releases buffers.
func (l *Loader) Close(ctx context.Context) error {
	l.parts = nil
	return nil
}

// flushPart finalizes the gzip stream and uploads the part object.
func (l *Loader) flushPart(ctx context.Context, partition string, part *partBuffer) error {
	if err := part.gz.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to finalize compressed part")
	}

	l.partSeq++
	key := l.objectKey(partition)
	contentType := "application/gzip"

	_, err := l.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      &l.bucket,
		Key:         &key,
		Body:        bytes.NewReader(part.buf.Bytes()),
		ContentType: &contentType,
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to upload part %s", key)
	}

	l.logger.Info("part uploaded",
		zap.String("key", key),
		zap.Int("records", part.count),
		zap.Int("compressed_bytes", part.buf.Len()))
	return nil
}

// objectKey builds the full part key under the partition prefix.
func (l *Loader) objectKey(partition string) string {
	name := fmt.Sprintf("part-%04d-%s.jsonl.gz", l.partSeq, strconv.FormatInt(time.Now().UnixNano(), 10))
	if l.prefix != "" {
		return l.prefix + "/" + partition + "/" + name
	}
	return partition + "/" + name
}

// partitionKey derives the Hive-style partition path for a record.
func partitionKey(r *models.Record) string {
	return fmt.Sprintf("%s=%d/%s=%s",
		models.PartitionStudyID, r.StudyID,
		models.PartitionIngestionDate, r.IngestionDate)
}
