package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/mfahub/container-backend/interfaces"
)

// S3Backend stores container records in Amazon S3 or a compatible
// object store, one JSON object per serial.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend. When accessKey and
// secretKey are empty the SDK's default credential chain applies.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

func (b *S3Backend) objectKey(serial string) string {
	name := serial + ".json"
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3Backend) Get(ctx context.Context, serial string) (*interfaces.ContainerRecord, error) {
	start := time.Now()
	key := b.objectKey(serial)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, interfaces.ErrContainerNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("serial", serial),
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	var record interfaces.ContainerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", serial, err)
	}

	b.log.Debug("Fetched container record from S3",
		slog.String("serial", serial),
		slog.String("bucket", b.bucketName),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return &record, nil
}

func (b *S3Backend) Put(ctx context.Context, record *interfaces.ContainerRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	key := b.objectKey(record.Serial)
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		b.log.Error("Failed to upload object to S3",
			slog.String("serial", record.Serial),
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored container record in S3",
		slog.String("serial", record.Serial),
		slog.String("bucket", b.bucketName),
		slog.String("key", key))
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, serial string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(serial)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context) ([]*interfaces.ContainerRecord, error) {
	var records []*interfaces.ContainerRecord

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
	}
	if b.prefix != "" {
		input.Prefix = aws.String(b.prefix + "/")
	}

	err := b.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				key := aws.StringValue(obj.Key)
				if !strings.HasSuffix(key, ".json") {
					continue
				}
				serial := strings.TrimSuffix(path.Base(key), ".json")
				record, err := b.Get(ctx, serial)
				if err != nil {
					b.log.Warn("Skipping unreadable container record",
						slog.String("serial", serial), "err", err)
					continue
				}
				records = append(records, record)
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return records, nil
}

func (b *S3Backend) LocationURI() string { return b.locationURI }
