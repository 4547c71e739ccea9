package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/models"
)

type nopSink struct{ name string }

func (s *nopSink) Name() string { return s.name }
func (s *nopSink) Write(context.Context, *models.Batch) error { return nil }
func (s *nopSink) Close(context.Context) error { return nil }

func campaignBatch(disposition models.WriteDisposition) *models.Batch {
	key := []string{"campaign__id", "segments__date"}
	at := time.Date(2024, 1, 20, 6, 0, 0, 0, time.UTC)
	return &models.Batch{
		Resource:    "campaign",
		CustomerID:  "123",
		Disposition: disposition,
		MergeKey:    key,
		Schema: models.Schema{Name: "campaign", Fields: []models.Field{
			{Name: "campaign.id", Column: "campaign__id", Type: "integer"},
			{Name: "segments.date", Column: "segments__date", Type: "string"},
			{Name: "metrics.cost_micros", Column: "metrics__cost_micros", Type: "integer"},
		}},
		Records: []models.Record{
			{Resource: "campaign", CustomerID: "123", MergeKey: key, ExtractedAt: at, Data: map[string]any{
				"campaign__id": "1", "segments__date": "2024-01-19", "metrics__cost_micros": "1500000",
				"campaign__labels": []any{"a"},
			}},
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(context.Context, config.DestinationConfig) (Sink, error) { return &nopSink{name: "nop"}, nil }

	require.NoError(t, r.Register("nop", factory))
	err := r.Register("nop", factory)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s, err := r.Create(context.Background(), "nop", config.DestinationConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nop", s.Name())

	_, err = r.Create(context.Background(), "missing", config.DestinationConfig{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	assert.True(t, r.Has("nop"))
	assert.Equal(t, []string{"nop"}, r.Names())
}

func TestFactoryErrorsAreWrapped(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("broken", func(context.Context, config.DestinationConfig) (Sink, error) {
		return nil, errors.New(errors.ErrorTypeConnection, "refused")
	}))
	_, err := r.Create(context.Background(), "broken", config.DestinationConfig{})
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeConnection))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), config.DestinationConfig{Type: "postgres", BatchSize: 10})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLayout(t *testing.T) {
	l := NewLayout(campaignBatch(models.DispositionMerge))

	assert.Equal(t, []string{
		"customer_id", "campaign__id", "segments__date", "metrics__cost_micros",
		"campaign__labels", "_extracted_at",
	}, l.Names())
	assert.Equal(t, []string{"customer_id", "campaign__id", "segments__date"}, l.Key)
	assert.Len(t, l.NonKey(), 3)

	vals := l.Values(campaignBatch(models.DispositionMerge).Records[0])
	assert.Equal(t, "123", vals[0])
	assert.Equal(t, int64(1), vals[1])
	assert.Equal(t, int64(1500000), vals[3])
	assert.Equal(t, `["a"]`, vals[4])

	assert.Empty(t, NewLayout(campaignBatch(models.DispositionAppend)).Key)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		typ  string
		in   any
		want any
	}{
		{TypeInteger, "42", int64(42)},
		{TypeInteger, float64(7), int64(7)},
		{TypeInteger, "not a number", "not a number"},
		{TypeNumber, "1.25", 1.25},
		{TypeBoolean, "true", true},
		{TypeObject, map[string]any{"a": "b"}, `{"a":"b"}`},
		{TypeArray, []any{"x", "y"}, `["x","y"]`},
		{TypeString, float64(3), "3"},
		{TypeString, "ENABLED", "ENABLED"},
		{TypeString, nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.typ, tt.in), "%s %v", tt.typ, tt.in)
	}
}

func TestDedupeKeepsLast(t *testing.T) {
	key := []string{"id"}
	recs := []models.Record{
		{CustomerID: "1", MergeKey: key, Data: map[string]any{"id": "a", "v": 1}},
		{CustomerID: "1", MergeKey: key, Data: map[string]any{"id": "b", "v": 2}},
		{CustomerID: "1", MergeKey: key, Data: map[string]any{"id": "a", "v": 3}},
	}
	out := Dedupe(recs)
	require.Len(t, out, 2)
	assert.Equal(t, 3, out[0].Data["v"])
	assert.Equal(t, "b", out[1].Data["id"])
}

func TestDialectStatements(t *testing.T) {
	l := Layout{
		Columns: []Column{
			{Name: "customer_id", Type: TypeString},
			{Name: "id", Type: TypeInteger},
			{Name: "labels", Type: TypeArray},
		},
		Key: []string{"customer_id", "id"},
	}

	assert.Equal(t,
		`INSERT INTO "t" ("customer_id", "id", "labels") VALUES ($1, $2, $3), ($4, $5, $6) ON CONFLICT ("customer_id", "id") DO UPDATE SET "labels" = EXCLUDED."labels"`,
		Postgres.Upsert(`"t"`, l, 2))

	assert.Equal(t,
		"INSERT INTO `t` (`customer_id`, `id`, `labels`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `labels` = VALUES(`labels`)",
		MySQL.Upsert("`t`", l, 1))

	assert.Equal(t,
		`MERGE INTO "t" t USING (SELECT column1 AS "customer_id", column2 AS "id", PARSE_JSON(column3) AS "labels" FROM VALUES (?, ?, ?)) s`+
			` ON t."customer_id" = s."customer_id" AND t."id" = s."id"`+
			` WHEN MATCHED THEN UPDATE SET t."labels" = s."labels"`+
			` WHEN NOT MATCHED THEN INSERT ("customer_id", "id", "labels") VALUES (s."customer_id", s."id", s."labels")`,
		Snowflake.Upsert(`"t"`, l, 1))

	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "s"."t" ("customer_id" TEXT NOT NULL, "id" BIGINT NOT NULL, "labels" JSONB, PRIMARY KEY ("customer_id", "id"))`,
		Postgres.CreateTable(Postgres.QualifiedName("s", "t"), l))

	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `t` (`customer_id` VARCHAR(255) NOT NULL, `id` BIGINT NOT NULL, `labels` JSON, PRIMARY KEY (`customer_id`, `id`))",
		MySQL.CreateTable(MySQL.QualifiedName("", "t"), l))

	assert.Equal(t, `DELETE FROM "t" WHERE "customer_id" = $1`, Postgres.DeleteCustomer(`"t"`))
	assert.Equal(t, "ALTER TABLE `t` ADD COLUMN `x` TEXT", MySQL.AddColumn("`t`", Column{Name: "x", Type: TypeString}))
	assert.Equal(t, `ALTER TABLE "t" ADD COLUMN IF NOT EXISTS "x" VARCHAR`, Snowflake.AddColumn(`"t"`, Column{Name: "x", Type: TypeString}))
}

func TestUpsertWithoutKeyIsInsert(t *testing.T) {
	l := Layout{Columns: []Column{{Name: "a", Type: TypeString}}}
	assert.Equal(t, `INSERT INTO "t" ("a") VALUES ($1)`, Postgres.Upsert(`"t"`, l, 1))
	assert.Equal(t, `INSERT INTO "t" ("a") SELECT column1 AS "a" FROM VALUES (?)`, Snowflake.Upsert(`"t"`, l, 1))
}

func TestRowsPerStatement(t *testing.T) {
	wide := Layout{Columns: make([]Column, 200)}
	assert.Equal(t, 300, Postgres.RowsPerStatement(wide))
	assert.Equal(t, maxRowsPerStatement, Postgres.RowsPerStatement(Layout{Columns: make([]Column, 3)}))
}
