package editor

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gridsync/gridsync/internal/gateway"
)

// GroupingEngine fetches the grouped projection of the filtered rows.
// It only remembers the chosen column, which lives in SessionState.
type GroupingEngine struct {
	gw      gateway.Gateway
	state   *SessionState
	surface Surface
	logger  *log.Logger
}

func NewGroupingEngine(gw gateway.Gateway, state *SessionState, surface Surface, logger *log.Logger) *GroupingEngine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &GroupingEngine{gw: gw, state: state, surface: surface, logger: logger}
}

// FetchGroup replaces the grouped projection with aggregates by column. On
// failure the projection is cleared rather than left stale.
func (g *GroupingEngine) FetchGroup(ctx context.Context, column string) error {
	if strings.TrimSpace(column) == "" {
		err := invalid("column", "choose a column to group by")
		g.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	if _, ok := g.state.Column(column); !ok {
		err := invalid("column", "unknown column %q", column)
		g.surface.Notify(NoticeWarn, err.Error())
		return err
	}

	seq := g.state.beginFetch()
	res, err := g.gw.FetchGrouped(ctx, g.state.DatasetID(), g.state.Filters(), column)
	if err != nil {
		if g.state.clearGroups(seq, column) {
			g.surface.SetGroups(column, nil)
			g.surface.Notify(NoticeError, fmt.Sprintf("Grouping failed: %v", err))
		}
		return fmt.Errorf("failed to group by %s: %w", column, err)
	}
	if !g.state.applyGroups(seq, column, res.Groups) {
		g.logger.Printf("dropping stale group response #%d", seq)
		return nil
	}
	g.surface.SetGroups(column, res.Groups)
	return nil
}
