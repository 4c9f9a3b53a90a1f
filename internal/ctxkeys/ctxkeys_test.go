package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithClientIP(ctx, "10.0.0.1")
	ctx = WithPrincipal(ctx, "jwt:alice")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	ip, ok := ClientIP(ctx)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", ip)

	p, ok := Principal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "jwt:alice", p)
}

func TestContextKeys_EmptyValue(t *testing.T) {
	ctx := WithPrincipal(context.Background(), "")
	_, ok := Principal(ctx)
	assert.False(t, ok)
}
