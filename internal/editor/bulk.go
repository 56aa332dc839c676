package editor

import (
	"context"
	"fmt"

	"github.com/gridsync/gridsync/internal/gateway"
)

// BulkUpdate writes value into column of every selected row. The service
// records it as one undo step, so undoing it focuses no single row.
func (c *Controller) BulkUpdate(ctx context.Context, rowIDs []int64, column, value string) error {
	col, err := c.checkBulk(rowIDs, column)
	if err != nil {
		return err
	}
	if col.Kind == gateway.KindDate {
		value = datePart(value)
	}
	res, err := c.gw.BulkUpdate(ctx, c.state.DatasetID(), rowIDs, column, value)
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not update %d rows: %v", len(rowIDs), err))
		return fmt.Errorf("failed to bulk update %s: %w", column, err)
	}
	return c.applyBulk(ctx, res)
}

// FindReplace replaces column cells equal to find within the selected rows.
func (c *Controller) FindReplace(ctx context.Context, rowIDs []int64, column, find, replace string) error {
	if _, err := c.checkBulk(rowIDs, column); err != nil {
		return err
	}
	if find == "" {
		err := invalid("find", "text to find is empty")
		c.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	res, err := c.gw.FindReplace(ctx, c.state.DatasetID(), rowIDs, column, find, replace)
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not replace in %d rows: %v", len(rowIDs), err))
		return fmt.Errorf("failed to replace in %s: %w", column, err)
	}
	return c.applyBulk(ctx, res)
}

// BulkDelete removes the selected rows after the caller has confirmed it.
func (c *Controller) BulkDelete(ctx context.Context, rowIDs []int64) error {
	if err := c.checkSelection(rowIDs); err != nil {
		return err
	}
	res, err := c.gw.BulkDelete(ctx, c.state.DatasetID(), rowIDs)
	if err != nil {
		c.surface.Notify(NoticeError, fmt.Sprintf("Could not delete %d rows: %v", len(rowIDs), err))
		return fmt.Errorf("failed to bulk delete: %w", err)
	}
	return c.applyBulk(ctx, res)
}

func (c *Controller) checkSelection(rowIDs []int64) error {
	if !c.state.HasDataset() {
		c.surface.Notify(NoticeWarn, "Load a dataset first")
		return invalid("dataset", "no dataset is open")
	}
	if len(rowIDs) == 0 {
		err := invalid("selection", "no rows selected")
		c.surface.Notify(NoticeWarn, err.Error())
		return err
	}
	return nil
}

func (c *Controller) checkBulk(rowIDs []int64, column string) (gateway.Column, error) {
	if err := c.checkSelection(rowIDs); err != nil {
		return gateway.Column{}, err
	}
	col, ok := c.state.Column(column)
	var err *ValidationError
	switch {
	case !ok:
		err = invalid("column", "unknown column %q", column)
	case !col.Editable:
		err = invalid("column", "%s is not editable", column)
	}
	if err != nil {
		c.surface.Notify(NoticeWarn, err.Error())
		return gateway.Column{}, err
	}
	return col, nil
}

// applyBulk adopts the authoritative depth and KPIs, then refreshes when rows changed.
func (c *Controller) applyBulk(ctx context.Context, res *gateway.BulkResult) error {
	c.state.adopt(res.UndoDepth, res.Kpis)
	c.surface.SetUndoDepth(res.UndoDepth)
	if res.Status == gateway.StatusNoChange {
		c.surface.Notify(NoticeInfo, res.Message)
		return nil
	}
	if res.Message != "" {
		c.surface.Notify(NoticeInfo, res.Message)
	}
	return c.Refresh(ctx)
}
