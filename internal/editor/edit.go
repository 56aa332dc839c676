package editor

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gridsync/gridsync/internal/gateway"
)

// EditResult tags the outcome of a submitted edit.
type EditResult int

const (
	// EditDiscarded: the value did not change, nothing was sent.
	EditDiscarded EditResult = iota
	// EditReverted: a date cell was emptied, taken as a cancelled edit.
	EditReverted
	// EditApplied: the service accepted the value.
	EditApplied
	// EditRolledBack: the service rejected the value and the cell was restored.
	EditRolledBack
	// EditRejected: the edit failed local validation, nothing was sent.
	EditRejected
)

func (r EditResult) String() string {
	switch r {
	case EditDiscarded:
		return "discarded"
	case EditReverted:
		return "reverted"
	case EditApplied:
		return "applied"
	case EditRolledBack:
		return "rolled-back"
	case EditRejected:
		return "rejected"
	}
	return fmt.Sprintf("EditResult(%d)", int(r))
}

// EditOutcome is returned by SubmitEdit. Err is set for RolledBack and Rejected.
type EditOutcome struct {
	Result EditResult
	Err    error
	// Value is what the cell shows once the outcome is settled.
	Value string
}

// EditSession applies cell edits optimistically and confirms or rolls them back.
// Edits are not queued; each one's baseline is the value visible when it was made.
type EditSession struct {
	gw      gateway.Gateway
	state   *SessionState
	surface Surface
	logger  *log.Logger
}

// NewEditSession wires an edit session to the shared state.
func NewEditSession(gw gateway.Gateway, state *SessionState, surface Surface, logger *log.Logger) *EditSession {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &EditSession{gw: gw, state: state, surface: surface, logger: logger}
}

// SubmitEdit writes newValue into (rowID, column). oldValue is the value the
// user saw before editing. The optimistic value never survives a failed call.
func (e *EditSession) SubmitEdit(ctx context.Context, rowID int64, column, newValue, oldValue string) EditOutcome {
	if newValue == oldValue {
		return EditOutcome{Result: EditDiscarded, Value: oldValue}
	}

	col, ok := e.state.Column(column)
	if !ok {
		return e.reject(invalid("column", "unknown column %q", column), oldValue)
	}
	if !col.Editable {
		return e.reject(invalid("column", "%s is not editable", column), oldValue)
	}

	if col.Kind == gateway.KindDate {
		newValue = datePart(newValue)
		if newValue == "" && oldValue != "" {
			e.state.setCell(rowID, column, oldValue)
			e.surface.SetCell(rowID, column, oldValue)
			return EditOutcome{Result: EditReverted, Value: oldValue}
		}
		if newValue == oldValue {
			e.surface.SetCell(rowID, column, oldValue)
			return EditOutcome{Result: EditDiscarded, Value: oldValue}
		}
	}

	if !e.state.setCell(rowID, column, newValue) {
		return e.reject(invalid("row", "row %d is not in the current view", rowID), oldValue)
	}
	e.surface.SetCell(rowID, column, newValue)
	e.surface.SetPending(rowID, e.state.markPending(rowID, 1))

	res, err := e.gw.MutateCell(ctx, e.state.DatasetID(), rowID, column, newValue)
	if err != nil {
		// a newer edit owns the cell if it no longer shows this value
		if e.state.revertCell(rowID, column, newValue, oldValue) {
			e.surface.SetCell(rowID, column, oldValue)
		}
		shown, _ := e.state.cell(rowID, column)
		e.surface.SetPending(rowID, e.state.markPending(rowID, -1))
		e.surface.Notify(NoticeError, fmt.Sprintf("Could not save %s: %v", column, err))
		e.logger.Printf("edit of row %d %s rolled back: %v", rowID, column, err)
		return EditOutcome{Result: EditRolledBack, Err: fmt.Errorf("failed to save cell: %w", err), Value: shown}
	}

	e.state.adopt(res.UndoDepth, res.Kpis)
	if res.RowStatus != "" && e.state.setCell(rowID, gateway.ColumnRowStatus, res.RowStatus) {
		e.surface.SetCell(rowID, gateway.ColumnRowStatus, res.RowStatus)
	}
	if res.Priority != "" && e.state.setCell(rowID, gateway.ColumnPriority, res.Priority) {
		e.surface.SetCell(rowID, gateway.ColumnPriority, res.Priority)
	}
	e.surface.SetPending(rowID, e.state.markPending(rowID, -1))
	e.surface.ShowKpis(res.Kpis)
	e.surface.SetUndoDepth(res.UndoDepth)
	return EditOutcome{Result: EditApplied, Value: newValue}
}

func (e *EditSession) reject(err *ValidationError, oldValue string) EditOutcome {
	e.surface.Notify(NoticeWarn, err.Error())
	return EditOutcome{Result: EditRejected, Err: err, Value: oldValue}
}

// datePart keeps the date of a "date time" value.
func datePart(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, ' '); i > 0 {
		return v[:i]
	}
	return v
}
