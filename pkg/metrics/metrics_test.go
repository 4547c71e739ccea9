package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RowsExtracted.WithLabelValues("metrics_test"))
	RowsExtracted.WithLabelValues("metrics_test").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RowsExtracted.WithLabelValues("metrics_test")))

	APIRequests.WithLabelValues("200").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(APIRequests.WithLabelValues("200")), 1.0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	RowsLoaded.WithLabelValues("memory", "handler_test").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `adsync_rows_loaded_total{resource="handler_test",sink="memory"} 1`)
}

func TestPush(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Push(srv.URL, "adsync_test"))
	assert.Contains(t, path, "/metrics/job/adsync_test")
}

func TestSampleProcess(t *testing.T) {
	rss, err := SampleProcess()
	require.NoError(t, err)
	assert.Positive(t, rss)
	assert.Equal(t, float64(rss), testutil.ToFloat64(ProcessRSS))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
}
