package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_NoTracer(t *testing.T) {
	SetTracer(nil)
	ctx := context.Background()

	spanCtx, span := StartSpan(ctx, "matching.Service.MatchScope")
	defer span.End()

	assert.Equal(t, ctx, spanCtx)
	assert.Empty(t, GetTraceID(spanCtx))
}

func TestInit_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	shutdown := Init("fern-test", sdktrace.WithSpanProcessor(recorder))
	defer func() {
		require.NoError(t, shutdown(context.Background()))
		SetTracer(nil)
	}()

	ctx, span := StartSpan(context.Background(), "affiliation.Service.Commit")
	assert.NotEmpty(t, GetTraceID(ctx))
	RecordError(span, errors.New("conflict"))
	SetAttributes(span, map[string]string{"family": "group_member"})
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "affiliation.Service.Commit", ended[0].Name())
	assert.Equal(t, "conflict", ended[0].Status().Description)
}

func TestNewExporter(t *testing.T) {
	_, err := NewExporter(context.Background(), ExporterConfig{Endpoint: "localhost:4317", Protocol: "thrift"})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")

	exp, err := NewExporter(context.Background(), ExporterConfig{Endpoint: "localhost:4318", Protocol: "http", Insecure: true})
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
}
