package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRejectsBlankColumnLocally(t *testing.T) {
	c, gw, _ := openController(t)

	err := c.Group(context.Background(), " ")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Zero(t, gw.count("group"))
	assert.Equal(t, ModeDetailed, c.State().Mode())
}

func TestGroupReplacesProjection(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.AddFilter(ctx, "Status", "open"))

	gw.group = func(filters []gateway.Filter, column string) (*gateway.GroupResult, error) {
		assert.Equal(t, []gateway.Filter{{Column: "Status", Value: "open"}}, filters)
		return &gateway.GroupResult{Groups: []gateway.Group{
			{Key: "Acme", Sum: 100, Mean: 100, Min: 100, Max: 100, Count: 1},
			{Key: "Initech", Sum: 25, Mean: 25, Min: 25, Max: 25, Count: 1},
		}}, nil
	}
	require.NoError(t, c.Group(ctx, "Vendor"))

	assert.Equal(t, ModeGrouped, c.State().Mode())
	assert.Equal(t, "Vendor", c.State().GroupColumn())
	assert.Len(t, c.State().Groups(), 2)
	assert.Equal(t, "Vendor", surface.groupColumn)
	assert.Equal(t, "Acme", surface.groups[0].Key)
}

func TestGroupFailureClearsProjection(t *testing.T) {
	c, gw, surface := openController(t)
	ctx := context.Background()
	require.NoError(t, c.Group(ctx, "Vendor"))
	require.Len(t, c.State().Groups(), 1)

	gw.group = func([]gateway.Filter, string) (*gateway.GroupResult, error) {
		return nil, &gateway.RemoteError{Status: 400, Message: "column \"Total\": unknown column"}
	}
	err := c.Group(ctx, "Total")
	assert.True(t, gateway.IsStatus(err, 400))
	assert.Empty(t, c.State().Groups())
	assert.Nil(t, surface.groups)
	assert.Equal(t, NoticeError, surface.lastNotice().Level)
	assert.Equal(t, ModeGrouped, c.State().Mode())
}

func TestGroupingByDerivedColumn(t *testing.T) {
	c, _, _ := openController(t)
	require.NoError(t, c.Group(context.Background(), gateway.ColumnPriority))
	assert.Equal(t, gateway.ColumnPriority, c.State().GroupColumn())
}
