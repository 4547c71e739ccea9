// Package schema loads resource definitions from JSON schema files.
//
// A resource's field list is the ordered set of keys of the top-level
// "properties" object of <name>.json. Key order in the file is the order
// fields appear in the generated SELECT clause, so files are read with a
// streaming token walk instead of being decoded into a map.
package schema

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/convert"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
)

//go:embed schemas/*.json
var embedded embed.FS

// Definition is a parsed schema file
type Definition struct {
	Name string
	// File is the path the definition was read from, relative to the registry root
	File   string
	Fields []models.Field
}

// FieldNames returns the GAQL field paths in declaration order
func (d *Definition) FieldNames() []string {
	out := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = f.Name
	}
	return out
}

// Schema returns the column layout for sinks
func (d *Definition) Schema() models.Schema {
	return models.Schema{Name: d.Name, Fields: append([]models.Field(nil), d.Fields...)}
}

// Registry reads and caches definitions. A Registry is built once per run;
// definitions are never shared between runs.
type Registry struct {
	fsys   fs.FS
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Definition
}

// NewRegistry creates a registry reading <dir>/<name>.json from fsys
func NewRegistry(fsys fs.FS, dir string) *Registry {
	if dir == "" {
		dir = "."
	}
	return &Registry{
		fsys:   fsys,
		dir:    dir,
		logger: logger.Get().With(zap.String("component", "schema_registry")),
		cache:  make(map[string]*Definition),
	}
}

// NewDirRegistry reads schema files from a directory on disk
func NewDirRegistry(dir string) *Registry {
	return NewRegistry(os.DirFS(dir), ".")
}

// NewEmbeddedRegistry reads the schema files compiled into the binary
func NewEmbeddedRegistry() *Registry {
	return NewRegistry(embedded, "schemas")
}

// Open selects the embedded schemas when dir is empty and the directory otherwise
func Open(dir string) *Registry {
	if dir == "" {
		return NewEmbeddedRegistry()
	}
	return NewDirRegistry(dir)
}

// Get returns the definition for a resource, reading it on first use.
// A missing file yields a not_found error and an unparseable file a
// malformed_schema error; both carry the filename.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	filename := path.Join(r.dir, name+".json")
	data, err := fs.ReadFile(r.fsys, filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "cannot find schema file %s", filename).
				WithDetail("filename", filename)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read schema file").
			WithDetail("filename", filename)
	}

	fields, err := parseProperties(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformed, "invalid schema file "+filename).
			WithDetail("filename", filename)
	}

	def = &Definition{Name: name, File: filename, Fields: fields}

	r.mu.Lock()
	if cached, ok := r.cache[name]; ok {
		def = cached
	} else {
		r.cache[name] = def
	}
	r.mu.Unlock()

	r.logger.Debug("loaded schema",
		zap.String("resource", name),
		zap.String("file", filename),
		zap.Int("fields", len(fields)))
	return def, nil
}

// Names lists the schema files available in the registry root
func (r *Registry) Names() ([]string, error) {
	entries, err := fs.ReadDir(r.fsys, r.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list schema directory").
			WithDetail("dir", r.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// parseProperties walks the document and returns the keys of the top-level
// "properties" object in the order they appear
func parseProperties(data []byte) ([]models.Field, error) {
	// the token walk does not check separators or trailing content
	if !gojson.Valid(data) {
		return nil, errors.New(errors.ErrorTypeMalformed, "schema file is not valid JSON")
	}
	dec := gojson.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var (
		fields []models.Field
		found  bool
	)
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if key != "properties" {
			if err := skipValue(dec); err != nil {
				return nil, err
			}
			continue
		}
		if found {
			return nil, errors.New(errors.ErrorTypeMalformed, "duplicate properties key")
		}
		found = true
		fields, err = readProperties(dec)
		if err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrorTypeMalformed, "schema has no properties object")
	}
	return fields, nil
}

func readProperties(dec *gojson.Decoder) ([]models.Field, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(gojson.Delim); !ok || d != '{' {
		return nil, errors.New(errors.ErrorTypeMalformed, "properties must be an object")
	}

	fields := []models.Field{}
	// a repeated key keeps its first position and its last definition
	seen := map[string]int{}
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		typ, err := readPropertyType(dec)
		if err != nil {
			return nil, err
		}
		if i, ok := seen[name]; ok {
			fields[i].Type = typ
			continue
		}
		seen[name] = len(fields)
		fields = append(fields, models.Field{
			Name:   name,
			Column: convert.Column(name),
			Type:   typ,
		})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return fields, nil
}

// readPropertyType consumes one property definition and returns its type.
// Nullable unions such as ["null", "integer"] collapse to the non-null member
// and a missing type means string.
func readPropertyType(dec *gojson.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	if d, ok := tok.(gojson.Delim); !ok || d != '{' {
		if ok {
			// an array as the property value; consume it
			if err := skipNested(dec); err != nil {
				return "", err
			}
		}
		return "string", nil
	}

	typ := ""
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return "", err
		}
		if key != "type" {
			if err := skipValue(dec); err != nil {
				return "", err
			}
			continue
		}
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch v := tok.(type) {
		case string:
			typ = v
		case gojson.Delim:
			if v != '[' {
				if err := skipNested(dec); err != nil {
					return "", err
				}
				continue
			}
			for dec.More() {
				tok, err := dec.Token()
				if err != nil {
					return "", err
				}
				if s, ok := tok.(string); ok && s != "null" && typ == "" {
					typ = s
				}
			}
			if err := expectDelim(dec, ']'); err != nil {
				return "", err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return "", err
	}
	if typ == "" {
		typ = "string"
	}
	return typ, nil
}

func readKey(dec *gojson.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", errors.Newf(errors.ErrorTypeMalformed, "expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *gojson.Decoder, want gojson.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(gojson.Delim); !ok || d != want {
		return errors.Newf(errors.ErrorTypeMalformed, "expected %q, got %v", want, tok)
	}
	return nil
}

// skipValue consumes the next value whatever its kind
func skipValue(dec *gojson.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(gojson.Delim); ok && (d == '{' || d == '[') {
		return skipNested(dec)
	}
	return nil
}

// skipNested consumes the remainder of an object or array whose opening
// delimiter has already been read
func skipNested(dec *gojson.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(gojson.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
