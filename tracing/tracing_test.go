package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/cdcrelay/cfg"
)

func TestInitDisabledKeepsNoopTracer(t *testing.T) {
	require.NoError(t, Init(context.Background(), cfg.TracingConfiguration{Enabled: false}, "cdcrelay", "test"))
	assert.Nil(t, traceProvider)

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	Shutdown(context.Background())
}
