// Package files writes each batch as one file to a local directory, a
// Cloud Storage bucket or an S3 bucket.
//
// Objects are laid out as
//
//	{prefix}/{resource}/customer_id={customer}/{stamp}-{writer}-{seq}{ext}
//
// so a replace load can drop a customer's files by prefix. Merge batches
// are deduplicated within the file; readers deduplicate across files on
// the key columns and _extracted_at.
package files

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/compression"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "files"

const stampLayout = "20060102T150405Z"

// Sink writes batches as files
type Sink struct {
	backend    Backend
	format     Format
	compressor compression.Compressor
	prefix     string
	writer     string
	seq        atomic.Int64
	now        func() time.Time
	logger     *zap.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New opens the backend selected by cfg.Files.URL
func New(ctx context.Context, cfg config.DestinationConfig) (*Sink, error) {
	loc, err := ParseLocation(cfg.Files.URL)
	if err != nil {
		return nil, err
	}
	algo, err := compression.ParseAlgorithm(cfg.Files.Compression)
	if err != nil {
		return nil, err
	}
	format, outer, err := NewFormat(cfg.Files.Format, algo)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(ctx, loc, cfg.Files)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, loc.Prefix, format, outer)
}

// NewWithBackend creates a sink over an open backend. algo compresses
// whole files and must be None for formats that compress internally.
func NewWithBackend(backend Backend, prefix string, format Format, algo compression.Algorithm) (*Sink, error) {
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
	if err != nil {
		return nil, err
	}
	s := &Sink{
		backend:    backend,
		format:     format,
		compressor: comp,
		prefix:     strings.Trim(prefix, "/"),
		writer:     uuid.NewString()[:8],
		now:        time.Now,
	}
	s.logger = logger.Get().With(
		zap.String("sink", Name),
		zap.String("backend", backend.Name()),
		zap.String("format", format.Name()),
		zap.String("compression", string(algo)))
	return s, nil
}

func (s *Sink) Name() string { return Name }

// CustomerPrefix is the key prefix holding a customer's files of a resource
func (s *Sink) CustomerPrefix(resource, customerID string) string {
	return joinKey(s.prefix, strings.ToLower(resource), sink.CustomerColumn+"="+customerID) + "/"
}

// objectKey names the next file of a customer's resource
func (s *Sink) objectKey(resource, customerID string) string {
	name := fmt.Sprintf("%s-%s-%05d%s%s",
		s.now().UTC().Format(stampLayout), s.writer, s.seq.Add(1),
		s.format.Extension(), s.compressor.Algorithm().Extension())
	return s.CustomerPrefix(resource, customerID) + name
}

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	if batch.Disposition == models.DispositionReplace && batch.First {
		prefix := s.CustomerPrefix(batch.Resource, batch.CustomerID)
		if err := s.backend.DeletePrefix(ctx, prefix); err != nil {
			return err
		}
		s.logger.Debug("customer files cleared", zap.String("prefix", prefix))
	}
	if batch.Len() == 0 {
		return nil
	}

	layout := sink.NewLayout(batch)
	records := batch.Records
	if len(layout.Key) > 0 {
		records = sink.Dedupe(records)
	}

	buf := json.GetBuffer()
	defer json.PutBuffer(buf)

	cw, err := s.compressor.NewWriter(buf)
	if err != nil {
		return err
	}
	if err := s.format.Encode(cw, batch.Resource, layout, records); err != nil {
		_ = cw.Close()
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode file")
	}
	if err := cw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress file")
	}

	key := s.objectKey(batch.Resource, batch.CustomerID)
	err = s.backend.Put(ctx, Object{
		Key:             key,
		Body:            buf.Bytes(),
		ContentType:     s.format.ContentType(),
		ContentEncoding: s.compressor.Algorithm().ContentEncoding(),
	})
	if err != nil {
		return err
	}
	s.logger.Debug("file written", zap.String("key", key), zap.Int("rows", len(records)), zap.Int("bytes", buf.Len()))
	return nil
}

func (s *Sink) Close(context.Context) error {
	return s.backend.Close()
}
