package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink/memory"
)

func load(t *testing.T, d *Driver, dst *memory.Sink, rc RunContext) {
	t.Helper()
	plan, err := d.Plan("campaign", rc)
	require.NoError(t, err)
	res, err := d.Catalog().Get("campaign")
	require.NoError(t, err)

	batch := &models.Batch{
		Resource:    res.Name,
		CustomerID:  rc.CustomerID,
		Disposition: res.Disposition,
		MergeKey:    res.MergeKey,
		Schema:      plan.Schema,
		First:       true,
	}
	for rec, err := range d.Extract(context.Background(), "campaign", rc) {
		require.NoError(t, err)
		batch.Add(rec)
	}
	require.NoError(t, dst.Write(context.Background(), batch))
}

func TestRerunDoesNotDuplicateRows(t *testing.T) {
	client := &fakeClient{batches: func(string) []*googleads.Batch { return campaignRows("1", "2", "3") }}
	d := newTestDriver(client, "2024-01-20")
	dst := memory.New()

	rc := RunContext{CustomerID: "1234567890", StartDate: date("2024-01-01"), ConversionWindowDays: 14, FirstRun: true}
	load(t, d, dst, rc)
	first := dst.Rows("campaign")

	rc.FirstRun = false
	load(t, d, dst, rc)

	assert.Equal(t, 3, dst.Count("campaign"))
	assert.Equal(t, 2, dst.Writes())
	for i, r := range dst.Rows("campaign") {
		assert.Equal(t, first[i].Key(), r.Key())
	}
}
