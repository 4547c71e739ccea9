package files

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/adsync/pkg/compression"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Format encodes the records of one batch as one file
type Format interface {
	Name() string
	Extension() string
	ContentType() string
	Encode(w io.Writer, resource string, l sink.Layout, records []models.Record) error
}

// Supported format names
const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatAvro    = "avro"
	FormatParquet = "parquet"
)

// NewFormat resolves a format and a compression algorithm. Avro and
// Parquet compress inside the file, so the returned outer algorithm is
// None for them; line formats are compressed as a whole.
func NewFormat(name string, algo compression.Algorithm) (Format, compression.Algorithm, error) {
	switch strings.ToLower(name) {
	case "", FormatJSONL, "json", "ndjson":
		return jsonlFormat{}, algo, nil
	case FormatCSV:
		return csvFormat{}, algo, nil
	case FormatAvro:
		switch algo {
		case compression.None:
			return avroFormat{codec: goavro.CompressionNullLabel}, compression.None, nil
		case compression.Deflate:
			return avroFormat{codec: goavro.CompressionDeflateLabel}, compression.None, nil
		case compression.Snappy:
			return avroFormat{codec: goavro.CompressionSnappyLabel}, compression.None, nil
		}
		return nil, "", errors.Newf(errors.ErrorTypeConfig, "avro files support deflate or snappy compression, not %s", algo)
	case FormatParquet:
		codec, ok := parquetCodecs[algo]
		if !ok {
			return nil, "", errors.Newf(errors.ErrorTypeConfig, "parquet files do not support %s compression", algo)
		}
		return parquetFormat{codec: codec}, compression.None, nil
	}
	return nil, "", errors.Newf(errors.ErrorTypeConfig, "unknown file format %q", name)
}

type jsonlFormat struct{}

func (jsonlFormat) Name() string        { return FormatJSONL }
func (jsonlFormat) Extension() string   { return ".jsonl" }
func (jsonlFormat) ContentType() string { return "application/x-ndjson" }

func (jsonlFormat) Encode(w io.Writer, _ string, l sink.Layout, records []models.Record) error {
	enc := json.NewLineEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(l.Object(rec)); err != nil {
			return err
		}
	}
	return nil
}

type csvFormat struct{}

func (csvFormat) Name() string        { return FormatCSV }
func (csvFormat) Extension() string   { return ".csv" }
func (csvFormat) ContentType() string { return "text/csv" }

func (csvFormat) Encode(w io.Writer, _ string, l sink.Layout, records []models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(l.Names()); err != nil {
		return err
	}
	row := make([]string, len(l.Columns))
	for _, rec := range records {
		for i, v := range l.Values(rec) {
			if t, ok := v.(time.Time); ok {
				row[i] = t.UTC().Format(time.RFC3339Nano)
				continue
			}
			row[i] = models.FormatValue(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type avroFormat struct {
	codec string
}

func (avroFormat) Name() string        { return FormatAvro }
func (avroFormat) Extension() string   { return ".avro" }
func (avroFormat) ContentType() string { return "application/avro" }

// AvroSchema renders the Avro record schema of a layout. Every field is a
// nullable union; object and array columns hold JSON text.
func AvroSchema(name string, l sink.Layout) (string, error) {
	fields := make([]map[string]any, len(l.Columns))
	for i, c := range l.Columns {
		fields[i] = map[string]any{
			"name":    c.Name,
			"type":    []any{"null", avroType(c.Type)},
			"default": nil,
		}
	}
	return json.MarshalString(map[string]any{
		"type":      "record",
		"name":      avroName(name),
		"namespace": "adsync",
		"fields":    fields,
	})
}

func avroType(t string) any {
	switch t {
	case sink.TypeInteger:
		return "long"
	case sink.TypeNumber:
		return "double"
	case sink.TypeBoolean:
		return "boolean"
	case sink.TypeTimestamp:
		return map[string]any{"type": "long", "logicalType": "timestamp-micros"}
	default:
		return "string"
	}
}

// avroUnion names the branch of a value in a nullable union
func avroUnion(t string) string {
	switch t {
	case sink.TypeInteger:
		return "long"
	case sink.TypeNumber:
		return "double"
	case sink.TypeBoolean:
		return "boolean"
	case sink.TypeTimestamp:
		return "long.timestamp-micros"
	default:
		return "string"
	}
}

func avroName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "record"
	}
	return b.String()
}

func (f avroFormat) Encode(w io.Writer, resource string, l sink.Layout, records []models.Record) error {
	schema, err := AvroSchema(resource, l)
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create Avro codec")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: codec, CompressionName: f.codec})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create Avro writer")
	}

	natives := make([]any, 0, len(records))
	for _, rec := range records {
		native := make(map[string]any, len(l.Columns))
		for i, v := range l.Values(rec) {
			c := l.Columns[i]
			val, err := avroValue(c.Type, v)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to encode Avro value").WithDetail("column", c.Name)
			}
			if val == nil {
				native[c.Name] = nil
				continue
			}
			native[c.Name] = goavro.Union(avroUnion(c.Type), val)
		}
		natives = append(natives, native)
	}
	if err := ocf.Append(natives); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write Avro records")
	}
	return nil
}

func avroValue(t string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case sink.TypeInteger:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case sink.TypeNumber:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case sink.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case sink.TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	default:
		return models.FormatValue(v), nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "value %v does not fit a %s column", v, t)
}

var parquetCodecs = map[compression.Algorithm]compress.Compression{
	compression.None:   compress.Codecs.Uncompressed,
	compression.Snappy: compress.Codecs.Snappy,
	compression.Gzip:   compress.Codecs.Gzip,
	compression.Zstd:   compress.Codecs.Zstd,
	compression.LZ4:    compress.Codecs.Lz4Raw,
}

type parquetFormat struct {
	codec compress.Compression
}

func (parquetFormat) Name() string        { return FormatParquet }
func (parquetFormat) Extension() string   { return ".parquet" }
func (parquetFormat) ContentType() string { return "application/vnd.apache.parquet" }

// ArrowSchema maps a layout to an Arrow schema with nullable fields
func ArrowSchema(l sink.Layout) *arrow.Schema {
	fields := make([]arrow.Field, len(l.Columns))
	for i, c := range l.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t string) arrow.DataType {
	switch t {
	case sink.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case sink.TypeNumber:
		return arrow.PrimitiveTypes.Float64
	case sink.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case sink.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

func (f parquetFormat) Encode(w io.Writer, _ string, l sink.Layout, records []models.Record) error {
	schema := ArrowSchema(l)
	mem := memory.NewGoAllocator()

	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for _, rec := range records {
		for i, v := range l.Values(rec) {
			if err := appendArrow(builder.Field(i), v); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to encode Parquet value").
					WithDetail("column", l.Columns[i].Name)
			}
		}
	}
	batch := builder.NewRecord()
	defer batch.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(f.codec),
		parquet.WithDictionaryDefault(true),
		parquet.WithAllocator(mem),
	)
	// hide any Close method of w; the file writer would close it
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem)))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create Parquet writer")
	}
	if err := fw.Write(batch); err != nil {
		_ = fw.Close()
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write Parquet records")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to close Parquet writer")
	}
	return nil
}

func appendArrow(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.Int64Builder:
		if n, ok := v.(int64); ok {
			fb.Append(n)
			return nil
		}
	case *array.Float64Builder:
		if f, ok := v.(float64); ok {
			fb.Append(f)
			return nil
		}
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			fb.Append(x)
			return nil
		}
	case *array.TimestampBuilder:
		if ts, ok := v.(time.Time); ok {
			fb.Append(arrow.Timestamp(ts.UnixMicro()))
			return nil
		}
	case *array.StringBuilder:
		fb.Append(models.FormatValue(v))
		return nil
	}
	return errors.Newf(errors.ErrorTypeData, "value %v does not fit column type %s", v, b.Type())
}
