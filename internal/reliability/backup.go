// Package reliability handles off-box durability (S3 snapshot backups)
// and process/host health sampling for the scheduler heartbeat.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupMetadata describes the contents of one uploaded snapshot.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupInfo describes a snapshot already stored in the bucket.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// BackupStore uploads and rotates point-in-time snapshots of the local
// sqlite database (PDT ledger, position snapshots, shutdown reports) to
// S3-compatible object storage so a redeployed instance can recover
// compliance history without replaying the broker's own records.
type BackupStore struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	keyPrefix  string
	log        zerolog.Logger
}

// NewBackupStore constructs an S3 client from explicit credentials and
// (optionally) a custom endpoint, for use against any S3-compatible
// provider.
func NewBackupStore(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string, log zerolog.Logger) (*BackupStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &BackupStore{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: "sentinel-backup-",
		log:       log.With().Str("component", "backup_store").Logger(),
	}, nil
}

// Snapshot reads dbPath, tars+gzips it alongside a metadata manifest,
// and uploads the archive under a timestamped key.
func (s *BackupStore) Snapshot(ctx context.Context, dbPath string) error {
	raw, err := os.ReadFile(dbPath)
	if err != nil {
		return fmt.Errorf("failed to read database for snapshot: %w", err)
	}
	checksum := fmt.Sprintf("sha256:%x", sha256.Sum256(raw))

	meta := BackupMetadata{Timestamp: time.Now().UTC(), Checksum: checksum, SizeBytes: int64(len(raw))}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}

	archive, err := buildArchive(raw, metaBytes)
	if err != nil {
		return fmt.Errorf("failed to build backup archive: %w", err)
	}

	key := fmt.Sprintf("%s%s.tar.gz", s.keyPrefix, time.Now().UTC().Format("2006-01-02-150405"))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(archive),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().Str("key", key).Int("size_bytes", len(archive)).Msg("backup uploaded")
	return nil
}

func buildArchive(db, meta []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, data := range map[string][]byte{"sentinel.db": db, "backup-metadata.json": meta} {
		hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0644, ModTime: time.Now()}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List returns every stored snapshot, newest first.
func (s *BackupStore) List(ctx context.Context) ([]BackupInfo, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	infos := make([]BackupInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		ts := parseBackupTimestamp(*obj.Key, s.keyPrefix)
		size := int64(0)
		if obj.Size != nil {
			size = *obj.Size
		}
		infos = append(infos, BackupInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.After(infos[j].Timestamp) })
	return infos, nil
}

func parseBackupTimestamp(key, prefix string) time.Time {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".tar.gz")
	t, err := time.Parse("2006-01-02-150405", trimmed)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Rotate deletes snapshots older than retentionDays, always keeping at
// least minKeep of the most recent ones.
func (s *BackupStore) Rotate(ctx context.Context, retentionDays, minKeep int) error {
	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minKeep {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	deleted := 0
	for i, b := range backups {
		if i < minKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(b.Key)})
		if err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}
