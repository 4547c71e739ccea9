package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

func batch(customer string, disposition models.WriteDisposition, first bool, ids ...string) *models.Batch {
	var key []string
	if disposition == models.DispositionMerge {
		key = []string{"id"}
	}
	b := &models.Batch{Resource: "r", CustomerID: customer, Disposition: disposition, MergeKey: key, First: first}
	for _, id := range ids {
		b.Add(models.NewRecord("r", customer, key, map[string]any{"id": id}))
	}
	return b
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Write(ctx, batch("1", models.DispositionMerge, true, "a", "b")))
	require.NoError(t, s.Write(ctx, batch("1", models.DispositionMerge, true, "a", "b", "c")))
	require.NoError(t, s.Write(ctx, batch("2", models.DispositionMerge, true, "a")))

	assert.Equal(t, 4, s.Count("r"), "same id under another customer is a different row")
	assert.Equal(t, 3, s.Writes())
}

func TestReplaceClearsCustomerOnFirstBatch(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Write(ctx, batch("1", models.DispositionReplace, true, "a", "b")))
	require.NoError(t, s.Write(ctx, batch("2", models.DispositionReplace, true, "z")))
	require.NoError(t, s.Write(ctx, batch("1", models.DispositionReplace, true, "c")))
	require.NoError(t, s.Write(ctx, batch("1", models.DispositionReplace, false, "d")))

	var ids []string
	for _, r := range s.Rows("r") {
		ids = append(ids, r.CustomerID+":"+r.Data["id"].(string))
	}
	assert.Equal(t, []string{"2:z", "1:c", "1:d"}, ids)
}

func TestAppendKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, batch("1", models.DispositionAppend, true, "a")))
	require.NoError(t, s.Write(ctx, batch("1", models.DispositionAppend, false, "a")))
	assert.Equal(t, 2, s.Count("r"))
	assert.Equal(t, []string{"r"}, s.Resources())
}

func TestClosedSinkRejectsWrites(t *testing.T) {
	s := New()
	require.NoError(t, s.Close(context.Background()))
	assert.Error(t, s.Write(context.Background(), batch("1", models.DispositionAppend, true, "a")))
}

func TestRegistered(t *testing.T) {
	s, err := sink.New(context.Background(), config.DestinationConfig{Type: Name, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, Name, s.Name())
}
