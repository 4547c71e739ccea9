package schema

import (
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestGetPreservesDeclarationOrder(t *testing.T) {
	fsys := mapFS(map[string]string{
		"schemas/r.json": `{
			"type": "object",
			"properties": {
				"zeta.id": {"type": ["null", "integer"]},
				"alpha.name": {"type": "string", "description": "{not: a delimiter}"},
				"mid.value": {"format": "date", "type": ["number", "null"]},
				"mid.list": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["zeta.id"]
		}`,
	})

	def, err := NewRegistry(fsys, "schemas").Get("r")
	require.NoError(t, err)

	assert.Equal(t, "r", def.Name)
	assert.Equal(t, "schemas/r.json", def.File)
	assert.Equal(t, []string{"zeta.id", "alpha.name", "mid.value", "mid.list"}, def.FieldNames())
	assert.Equal(t, []string{"zeta__id", "alpha__name", "mid__value", "mid__list"}, def.Schema().Columns())

	types := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		types = append(types, f.Type)
	}
	assert.Equal(t, []string{"integer", "string", "number", "array"}, types)
}

func TestGetIgnoresNestedProperties(t *testing.T) {
	fsys := mapFS(map[string]string{
		"r.json": `{
			"definitions": {"properties": {"wrong": {}}},
			"properties": {"a": {"type": "object", "properties": {"nested": {}}}, "b": {}}
		}`,
	})

	def, err := NewRegistry(fsys, ".").Get("r")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, def.FieldNames())
}

func TestGetEmptyProperties(t *testing.T) {
	def, err := NewRegistry(mapFS(map[string]string{"r.json": `{"properties": {}}`}), "").Get("r")
	require.NoError(t, err)
	assert.Empty(t, def.Fields)
}

func TestGetMissingFile(t *testing.T) {
	_, err := NewRegistry(mapFS(nil), "schemas").Get("nope")
	require.Error(t, err)

	assert.True(t, errors.IsNotFound(err))
	assert.False(t, errors.IsMalformed(err))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "schemas/nope.json", e.Detail("filename"))
	assert.Contains(t, err.Error(), "schemas/nope.json")
}

func TestGetMalformed(t *testing.T) {
	tests := map[string]string{
		"truncated":             `{"properties": {"a": {}`,
		"not json":              `properties: a`,
		"top level array":       `[{"properties": {}}]`,
		"missing properties":    `{"type": "object"}`,
		"properties not object": `{"properties": ["a", "b"]}`,
		"empty file":            ``,
		"missing colon":         `{"properties": {"a.b" {"type": "string"}}}`,
		"missing comma":         `{"properties": {"a.b": {} "c.d": {}}}`,
		"trailing content":      `{"properties": {"a.b": {}}} xyz`,
		"two documents":         `{"properties": {"a.b": {}}} {"properties": {}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(mapFS(map[string]string{"r.json": body}), ".").Get("r")
			require.Error(t, err)
			assert.True(t, errors.IsMalformed(err), "got %v", err)
			assert.False(t, errors.IsNotFound(err))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "r.json", e.Detail("filename"))
		})
	}
}

func TestGetDuplicateProperty(t *testing.T) {
	fsys := mapFS(map[string]string{
		"r.json": `{"properties": {"a.b": {"type": "string"}, "c.d": {}, "a.b": {"type": "integer"}}}`,
	})
	def, err := NewRegistry(fsys, ".").Get("r")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.b", "c.d"}, def.FieldNames())
	assert.Equal(t, "integer", def.Fields[0].Type)
}

func TestCachePerRegistry(t *testing.T) {
	fsys := mapFS(map[string]string{"r.json": `{"properties": {"a": {}}}`})

	first := NewRegistry(fsys, ".")
	def1, err := first.Get("r")
	require.NoError(t, err)

	fsys["r.json"] = &fstest.MapFile{Data: []byte(`{"properties": {"b": {}}}`)}

	def2, err := first.Get("r")
	require.NoError(t, err)
	assert.Same(t, def1, def2)
	assert.Equal(t, []string{"a"}, def2.FieldNames())

	// a new registry, as built by the next run, sees the edit
	def3, err := NewRegistry(fsys, ".").Get("r")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, def3.FieldNames())
}

func TestConcurrentGet(t *testing.T) {
	reg := NewEmbeddedRegistry()

	var wg sync.WaitGroup
	defs := make([]*Definition, 16)
	for i := range defs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := reg.Get("campaign")
			assert.NoError(t, err)
			defs[i] = d
		}(i)
	}
	wg.Wait()

	for _, d := range defs[1:] {
		assert.Same(t, defs[0], d)
	}
}

func TestEmbeddedSchemas(t *testing.T) {
	reg := Open("")

	names, err := reg.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ad_group", "ad_group_ad", "campaign", "change_event", "click_view",
		"customer", "display_keyword_view", "keyword_view",
	}, names)

	for _, name := range names {
		def, err := reg.Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, def.Fields, name)
	}

	campaign, err := reg.Get("campaign")
	require.NoError(t, err)
	assert.Equal(t, "campaign.id", campaign.FieldNames()[0])
}

func TestDirRegistry(t *testing.T) {
	dir := t.TempDir()
	reg := Open(dir)

	_, err := reg.Get("campaign")
	assert.True(t, errors.IsNotFound(err))

	names, err := reg.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}
