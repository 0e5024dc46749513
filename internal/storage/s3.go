package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inpointtech/acquisition/internal/log"
)

// S3 implements Store on Amazon S3.
type S3 struct {
	client *s3.Client
	tmpDir string
}

// S3Options configure the S3 collaborator.
type S3Options struct {
	Region    string
	AccessKey string // static credentials; empty falls back to the default chain
	SecretKey string
	TmpDir    string // download scratch space; empty uses the OS temp dir
}

// NewS3 builds an S3 storage collaborator.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if opts.TmpDir != "" {
		if err := os.MkdirAll(opts.TmpDir, 0o750); err != nil {
			return nil, fmt.Errorf("create download dir %s: %w", opts.TmpDir, err)
		}
	}
	return &S3{
		client: s3.NewFromConfig(cfg),
		tmpDir: opts.TmpDir,
	}, nil
}

// Upload pushes localPath to dest and returns the object's public URL.
func (s *S3) Upload(ctx context.Context, localPath string, dest Destination) (string, error) {
	logger := log.WithComponentFromContext(ctx, "storage.s3")

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	name := dest.Name
	if name == "" {
		name = filepath.Base(localPath)
	}
	key := path.Join(dest.Directory, name)

	uploader := manager.NewUploader(s.client)
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dest.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to %s/%s: %w", localPath, dest.Bucket, key, err)
	}

	logger.Info().
		Str("event", "storage.upload").
		Str(log.FieldPath, localPath).
		Str("bucket", dest.Bucket).
		Str("key", key).
		Msg("artifact uploaded")

	return out.Location, nil
}

// Download fetches src into a temp file and returns the local path.
func (s *S3) Download(ctx context.Context, src Source) (string, error) {
	logger := log.WithComponentFromContext(ctx, "storage.s3")

	f, err := os.CreateTemp(s.tmpDir, "*-"+filepath.Base(src.Key))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	downloader := manager.NewDownloader(s.client)
	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("download %s/%s: %w", src.Bucket, src.Key, err)
	}

	// close on success; the bytes are already flushed by the SDK
	_ = f.Close()

	logger.Info().
		Str("event", "storage.download").
		Str("bucket", src.Bucket).
		Str("key", src.Key).
		Int64("bytes", size).
		Str(log.FieldPath, f.Name()).
		Msg("stored object downloaded")

	return f.Name(), nil
}
