package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(domain.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestProviderExportsToLog(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	exp := NewLogExporter(zerolog.New(&buf).Level(zerolog.DebugLevel))
	tp := NewProvider(domain.TracingConfig{ServiceName: "test", SampleRatio: 1}, exp)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "detection.ProcessSignal")
	_, child := tp.Tracer("test").Start(ctx, "inference.Predict")
	child.SetAttributes(attribute.String("b_number", "+2348012345678"))
	child.End()
	parent.End()

	require.NoError(t, tp.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"span":"detection.ProcessSignal"`)
	assert.Contains(t, out, `"span":"inference.Predict"`)
	assert.Contains(t, out, `"b_number":"+2348012345678"`)
	assert.Contains(t, out, `"parent_id"`)
	assert.Contains(t, out, parent.SpanContext().TraceID().String())
}

func TestProviderZeroRatioDropsRoots(t *testing.T) {
	var buf bytes.Buffer
	tp := NewProvider(domain.TracingConfig{SampleRatio: 0}, NewLogExporter(zerolog.New(&buf)))

	_, span := tp.Tracer("test").Start(context.Background(), "unsampled")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Empty(t, buf.String())
}
