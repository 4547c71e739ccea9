package observability

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
)

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartResourceSpan(context.Background(), "run-1", "1234567890", "campaign")
	_, q := StartQuerySpan(ctx, "campaign", "SELECT campaign.id FROM campaign")
	End(q, errors.New(errors.ErrorTypeQuery, "bad query"))
	_, load := StartSinkSpan(ctx, "memory", "campaign", 3)
	End(load, nil)
	End(span, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 3)

	query := ended[0]
	assert.Equal(t, "query campaign", query.Name())
	assert.Equal(t, codes.Error, query.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID(), query.SpanContext().TraceID())
	assert.Len(t, query.Events(), 1)

	assert.Equal(t, "load campaign", ended[1].Name())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
	assert.Equal(t, "extract campaign", ended[2].Name())
	assert.Contains(t, ended[2].Attributes(), AttrCustomerID.String("1234567890"))
}

func TestInitWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	require.NoError(t, Init(ctx, TracingConfig{ServiceName: "adsync-test", Writer: &buf}))

	_, span := StartResourceSpan(ctx, "run-2", "1", "ad_group")
	End(span, nil)

	require.NoError(t, Shutdown(ctx))
	assert.Contains(t, buf.String(), "extract ad_group")
	assert.Contains(t, buf.String(), "adsync-test")

	// a second shutdown is a no-op
	assert.NoError(t, Shutdown(ctx))
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	ctx := context.Background()

	cfg := config.NewConfig()
	cfg.Observability.TracingOutput = path
	cfg.Observability.TracingSampleRate = 1
	require.NoError(t, Init(ctx, FromConfig(cfg, "test")))

	_, span := StartSinkSpan(ctx, "files", "customer", 1)
	End(span, nil)
	require.NoError(t, Shutdown(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "load customer")
}

func TestInitBadOutput(t *testing.T) {
	err := Init(context.Background(), TracingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.json")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
