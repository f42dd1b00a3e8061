package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "connectrtc-softphone", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpanWithoutProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	span.End()
}

func TestSessionAndStateSpans(t *testing.T) {
	recorder := withRecorder(t)

	ctx, root := TraceSession(context.Background(), "call-1")
	_, child := TraceState(ctx, "TalkingState")
	child.End()
	root.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "state.TalkingState", ended[0].Name())
	assert.Equal(t, "session", ended[1].Name())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())

	attrs := ended[1].Attributes()
	require.Len(t, attrs, 1)
	assert.Equal(t, CallIDKey, attrs[0].Key)
	assert.Equal(t, "call-1", attrs[0].Value.AsString())
}

func TestRecordError(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceSignaling(context.Background(), "invite", "call-2")
	RecordError(ctx, errors.New("busy"))
	RecordError(ctx, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "busy", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

func TestMeasureDuration(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "measure")
	MeasureDuration(ctx, time.Now().Add(-25*time.Millisecond), "grab")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	var found bool
	for _, kv := range ended[0].Attributes() {
		if kv.Key == DurationKey {
			found = true
			assert.GreaterOrEqual(t, kv.Value.AsInt64(), int64(25))
		}
	}
	assert.True(t, found)
}
