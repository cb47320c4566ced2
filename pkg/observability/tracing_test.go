package observability

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracing_Disabled(t *testing.T) {
	tr, err := NewTracing(TracingConfig{ServiceName: "infortic"})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), tr.Tracer(), "pipeline.run")
	span.End(nil)
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracing(TracingConfig{
		Enabled:      true,
		ServiceName:  "infortic",
		SamplingRate: 1.0,
		Writer:       &buf,
	})
	require.NoError(t, err)

	ctx, run := StartSpan(context.Background(), tr.Tracer(), "pipeline.run",
		attribute.String("table", "lomba"))
	_, batch := StartSpan(ctx, tr.Tracer(), "pipeline.batch", attribute.Int("batch.index", 0))
	batch.End(stderrors.New("upstream unavailable"))
	run.End(nil)

	require.NoError(t, tr.Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "pipeline.run")
	assert.Contains(t, out, "pipeline.batch")
	assert.Contains(t, out, "upstream unavailable")
}

func TestStartSpan_NilTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), nil, "noop")
	span.SetAttributes(attribute.Bool("ok", true))
	span.End(nil)
}
