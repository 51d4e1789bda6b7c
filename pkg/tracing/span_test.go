package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartBuildsTree(t *testing.T) {
	ctx, root := Start(context.Background(), "session.save")
	require.NotNil(t, root)
	assert.Len(t, root.TraceID, 32)

	_, child := Start(ctx, "group.update")
	child.SetAttr("terms", 3)
	child.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, 3, child.Attrs["terms"])
	assert.Same(t, root, SpanFromContext(ctx))
}

func TestNewTraceIDUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}
