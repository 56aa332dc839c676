package ui

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/editor"
)

// watchChanges reloads the open dataset when another client changes it.
// Each session reads through its own consumer group so every session sees every change.
func (ui *UI) watchChanges() {
	group := "gridsync-ui-" + uuid.NewString()
	consumer := ui.opts.ClientID
	if consumer == "" {
		consumer = "ui"
	}
	ui.logger.Printf("Subscribing to %s as %s", bus.ChangesStream, group)

	err := ui.bus.ReadChanges(ui.ctx, group, consumer, ui.handleChange)
	if err != nil && !errors.Is(err, context.Canceled) {
		ui.logger.Printf("change subscription ended: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ui.bus.DropGroup(ctx, group); err != nil {
		ui.logger.Printf("failed to drop consumer group %s: %v", group, err)
	}
}

// handleChange applies one change notification. Own changes and other datasets are ignored.
func (ui *UI) handleChange(ctx context.Context, msg bus.ChangeMessage) error {
	state := ui.ctrl.State()
	if msg.Origin != "" && msg.Origin == ui.opts.ClientID {
		return nil
	}
	if !state.HasDataset() || msg.DatasetID != state.DatasetID() {
		return nil
	}

	if msg.Action == "drop" {
		ui.grid.Notify(editor.NoticeWarn, "This dataset was deleted by another client")
		return nil
	}

	ui.logger.Printf("dataset %s changed elsewhere (%s by %s), reloading", msg.DatasetID, msg.Action, msg.Origin)
	ui.ctrl.ObserveUndoDepth(msg.UndoDepth)
	if err := ui.ctrl.Reload(ctx); err != nil {
		return err
	}
	ui.grid.Notify(editor.NoticeInfo, "Dataset updated by another client")
	ui.queue(ui.updateFilterBar)
	return nil
}
