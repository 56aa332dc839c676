package editor

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/gridsync/gridsync/internal/gateway"
)

// UndoCoordinator reverts the latest mutation and focuses the row it touched.
type UndoCoordinator struct {
	gw         gateway.Gateway
	state      *SessionState
	surface    Surface
	reconciler *Reconciler
	refresh    func(ctx context.Context) error
	logger     *log.Logger
}

// NewUndoCoordinator wires undo to the shared state. refresh re-fetches the active view.
func NewUndoCoordinator(gw gateway.Gateway, state *SessionState, surface Surface, reconciler *Reconciler,
	refresh func(ctx context.Context) error, logger *log.Logger) *UndoCoordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &UndoCoordinator{
		gw:         gw,
		state:      state,
		surface:    surface,
		reconciler: reconciler,
		refresh:    refresh,
		logger:     logger,
	}
}

// Undo reverts the most recent mutation. With an empty history it only shows a notice.
func (u *UndoCoordinator) Undo(ctx context.Context) error {
	if !u.state.CanUndo() {
		u.surface.Notify(NoticeInfo, "Nothing to undo")
		return nil
	}

	res, err := u.gw.Undo(ctx, u.state.DatasetID())
	if err != nil {
		u.surface.Notify(NoticeError, fmt.Sprintf("Undo failed: %v", err))
		return fmt.Errorf("failed to undo: %w", err)
	}

	u.state.adopt(res.UndoDepth, res.Kpis)
	u.surface.SetUndoDepth(res.UndoDepth)

	// The listener must be attached before the refresh starts redrawing.
	if res.AffectedRowID != nil {
		u.reconciler.Arm(*res.AffectedRowID)
	}
	if res.ActionLabel != "" {
		u.surface.Notify(NoticeInfo, res.ActionLabel)
	}

	if err := u.refresh(ctx); err != nil {
		u.reconciler.Cancel()
		return err
	}
	return nil
}

// Commit consolidates the pending changes and clears the undo history.
func (u *UndoCoordinator) Commit(ctx context.Context) error {
	if !u.state.CanUndo() {
		u.surface.Notify(NoticeInfo, "No pending changes to commit")
		return nil
	}
	if err := u.gw.Commit(ctx, u.state.DatasetID()); err != nil {
		u.surface.Notify(NoticeError, fmt.Sprintf("Commit failed: %v", err))
		return fmt.Errorf("failed to commit: %w", err)
	}
	u.state.setUndoDepth(0)
	u.surface.SetUndoDepth(0)
	u.surface.Notify(NoticeInfo, "Changes committed")
	return nil
}
