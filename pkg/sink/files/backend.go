package files

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
)

// Object is one file to store
type Object struct {
	Key             string
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// Backend stores objects under slash-separated keys
type Backend interface {
	Name() string
	Put(ctx context.Context, obj Object) error
	// DeletePrefix removes every object whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Location is a parsed destination URL
type Location struct {
	Scheme string
	// Bucket is the bucket name, or the directory for file URLs
	Bucket string
	Prefix string
}

// ParseLocation parses file://dir, gs://bucket/prefix and s3://bucket/prefix
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid files url")
	}
	switch u.Scheme {
	case "file":
		dir := u.Host + u.Path
		if dir == "" {
			return Location{}, errors.New(errors.ErrorTypeConfig, "file url needs a directory")
		}
		return Location{Scheme: "file", Bucket: filepath.FromSlash(dir)}, nil
	case "gs", "s3":
		if u.Host == "" {
			return Location{}, errors.Newf(errors.ErrorTypeConfig, "%s url needs a bucket", u.Scheme)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	}
	return Location{}, errors.Newf(errors.ErrorTypeConfig, "unsupported files url scheme %q", u.Scheme)
}

// NewBackend opens the backend of loc
func NewBackend(ctx context.Context, loc Location, cfg config.FilesConfig) (Backend, error) {
	switch loc.Scheme {
	case "file":
		return NewLocalBackend(loc.Bucket)
	case "gs":
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		return NewGCSBackend(ctx, loc.Bucket, opts...)
	case "s3":
		return NewS3Backend(ctx, loc.Bucket, cfg.Region)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported files backend %q", loc.Scheme)
}

// localBackend writes files below a directory
type localBackend struct {
	root string
}

// NewLocalBackend creates root if needed
func NewLocalBackend(root string) (Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory").
			WithDetail("path", root)
	}
	return &localBackend{root: root}, nil
}

func (b *localBackend) Name() string { return "file" }

func (b *localBackend) Put(_ context.Context, obj Object) error {
	target := filepath.Join(b.root, filepath.FromSlash(obj.Key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create directory").WithDetail("path", target)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, obj.Body, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write file").WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to rename file").WithDetail("path", target)
	}
	return nil
}

func (b *localBackend) DeletePrefix(_ context.Context, prefix string) error {
	dir := filepath.Join(b.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove files").WithDetail("path", dir)
	}
	return nil
}

func (b *localBackend) Close() error { return nil }

// gcsBackend writes objects to a Cloud Storage bucket
type gcsBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSBackend creates a client for bucket
func NewGCSBackend(ctx context.Context, bucket string, opts ...option.ClientOption) (Backend, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &gcsBackend{client: client, bucket: client.Bucket(bucket)}, nil
}

func (b *gcsBackend) Name() string { return "gcs" }

func (b *gcsBackend) Put(ctx context.Context, obj Object) error {
	w := b.bucket.Object(obj.Key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.ContentEncoding = obj.ContentEncoding
	if _, err := w.Write(obj.Body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload object").WithDetail("key", obj.Key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to finalize object").WithDetail("key", obj.Key)
	}
	return nil
}

func (b *gcsBackend) DeletePrefix(ctx context.Context, prefix string) error {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to list objects").WithDetail("prefix", prefix)
		}
		if err := b.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete object").WithDetail("key", attrs.Name)
		}
	}
}

func (b *gcsBackend) Close() error { return b.client.Close() }

// s3Backend writes objects to an S3 bucket through the multipart uploader
type s3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Backend loads the default AWS configuration for region
func NewS3Backend(ctx context.Context, bucket, region string) (Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
		u.Concurrency = 4
	})
	return &s3Backend{client: client, uploader: uploader, bucket: bucket}, nil
}

func (b *s3Backend) Name() string { return "s3" }

func (b *s3Backend) Put(ctx context.Context, obj Object) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(obj.Key),
		Body:        bytes.NewReader(obj.Body),
		ContentType: aws.String(obj.ContentType),
	}
	if obj.ContentEncoding != "" {
		input.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload object").WithDetail("key", obj.Key)
	}
	return nil
}

func (b *s3Backend) DeletePrefix(ctx context.Context, prefix string) error {
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to list objects").WithDetail("prefix", prefix)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			ids[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to delete objects").WithDetail("prefix", prefix)
		}
	}
	return nil
}

func (b *s3Backend) Close() error { return nil }

// joinKey joins key segments, skipping empty ones
func joinKey(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return path.Join(kept...)
}
