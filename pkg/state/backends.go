package state

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
)

// DefaultPath is the file store location when none is configured
const DefaultPath = ".adsync/state.json"

// New builds the store selected by cfg.Type
func New(ctx context.Context, cfg config.StateConfig, opts ...option.ClientOption) (Store, error) {
	switch cfg.Type {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, cfg.Object, opts...)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown state store type %q", cfg.Type)
	}
}

// NewFileStore keeps the document in a local file
func NewFileStore(path string) Store {
	if path == "" {
		path = DefaultPath
	}
	return &docStore{backend: &fileBackend{path: path}}
}

type fileBackend struct {
	path string
}

func (b *fileBackend) name() string { return b.path }

func (b *fileBackend) read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state file").
			WithDetail("path", b.path)
	}
	return data, nil
}

// write replaces the file through a rename so readers never see a partial
// document
func (b *fileBackend) write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create state directory").
			WithDetail("path", dir)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write state file")
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace state file").
			WithDetail("path", b.path)
	}
	return nil
}

func (b *fileBackend) close() error { return nil }

// NewGCSStore keeps the document in a GCS object. Writes are conditional on
// the generation last read, so a concurrent writer makes Put fail instead
// of being overwritten.
func NewGCSStore(ctx context.Context, bucket, object string, opts ...option.ClientOption) (Store, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "state.bucket is required for the gcs store")
	}
	if object == "" {
		object = "adsync/state.json"
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &docStore{backend: &gcsBackend{client: client, bucket: bucket, object: object}}, nil
}

type gcsBackend struct {
	client     *storage.Client
	bucket     string
	object     string
	generation int64
}

func (b *gcsBackend) name() string { return "gs://" + b.bucket + "/" + b.object }

func (b *gcsBackend) read(ctx context.Context) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		b.generation = 0
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read state object").
			WithDetail("object", b.name())
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read state object").
			WithDetail("object", b.name())
	}
	b.generation = r.Attrs.Generation
	return data, nil
}

func (b *gcsBackend) write(ctx context.Context, data []byte) error {
	obj := b.client.Bucket(b.bucket).Object(b.object)
	if b.generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: b.generation})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write state object").
			WithDetail("object", b.name())
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write state object").
			WithDetail("object", b.name())
	}
	b.generation = w.Attrs().Generation
	return nil
}

func (b *gcsBackend) close() error {
	return b.client.Close()
}
