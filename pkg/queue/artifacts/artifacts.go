// Package artifacts implements duraq's FailureArtifactStore: a
// best-effort archive of the payload and error text behind a
// ProcessorException, adapted from the dual S3/local log store pattern
// used for execution logs elsewhere in the example pack.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"duraq/pkg/queue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store implements queue.FailureArtifactStore. A Store is always usable
// in local mode; S3 upload is attempted in addition when configured.
type Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localDir   string
}

// Config configures a Store. Bucket empty means S3 upload is disabled
// and every artifact is kept local-only.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // set for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalDir        string // always used, even when S3 is enabled
}

// New builds a Store from cfg. If cfg.Bucket is empty the Store operates
// in local-filesystem-only mode.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.LocalDir == "" {
		cfg.LocalDir = "/tmp/duraq-artifacts"
	}
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create local dir: %w", err)
	}

	s := &Store{prefix: cfg.Prefix, localDir: cfg.LocalDir, bucket: cfg.Bucket}
	if cfg.Bucket == "" {
		return s, nil
	}

	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("artifacts: load AWS config: %w", err)
	}
	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	s.client = s3.NewFromConfig(awsCfg, clientOpts...)
	return s, nil
}

// Archive implements queue.FailureArtifactStore: it writes the job
// payload and the processor's error text, local-first, with a
// best-effort S3 upload alongside when configured.
func (s *Store) Archive(ctx context.Context, job *queue.Job, procErr error) error {
	fp := job.Fingerprint()
	body := buildArtifact(job, procErr)

	localPath := filepath.Join(s.localDir, fp+".log")
	if err := os.WriteFile(localPath, body, 0o644); err != nil {
		return fmt.Errorf("artifacts: write local: %w", err)
	}

	if s.client == nil {
		return nil
	}
	key := s.buildKey(fp)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("artifacts: upload to s3: %w", err)
	}
	return nil
}

// Retrieve reads back an archived artifact by fingerprint, local cache
// first, S3 on a cache miss.
func (s *Store) Retrieve(ctx context.Context, fingerprint string) ([]byte, error) {
	localPath := filepath.Join(s.localDir, fingerprint+".log")
	if data, err := os.ReadFile(localPath); err == nil {
		return data, nil
	}
	if s.client == nil {
		return nil, fmt.Errorf("artifacts: %s not found locally and no S3 configured", fingerprint)
	}
	key := s.buildKey(fingerprint)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: get from s3: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read s3 body: %w", err)
	}
	_ = os.WriteFile(localPath, data, 0o644)
	return data, nil
}

func (s *Store) buildKey(fingerprint string) string {
	datePath := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.log", s.prefix, datePath, fingerprint)
}

func buildArtifact(job *queue.Job, procErr error) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tenant=%s queue=%s id=%s count=%d\n", job.Tenant, job.Queue, job.ID, job.Count)
	fmt.Fprintf(&buf, "error: %v\n\n", procErr)
	buf.Write(job.Payload)
	return buf.Bytes()
}
