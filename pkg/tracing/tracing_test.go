package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	// Sets the global provider, so not parallel.
	p, err := Setup(context.Background(), Options{Endpoint: "127.0.0.1:4317", Insecure: true})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Export may fail with no collector listening; shutdown must still return.
	_ = p.Shutdown(ctx)
}

func TestNilProvider(t *testing.T) {
	t.Parallel()

	var p *Provider
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}
