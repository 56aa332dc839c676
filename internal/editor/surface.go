package editor

import (
	"time"

	"github.com/gridsync/gridsync/internal/gateway"
)

// NoticeLevel is the severity of a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarn:
		return "warn"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// EmptyState tells the surface what to show instead of rows.
type EmptyState int

const (
	// EmptyNone means rows are present.
	EmptyNone EmptyState = iota
	// EmptyNoDataset means nothing has been loaded yet.
	EmptyNoDataset
	// EmptyNoResults means the active filters matched no rows.
	EmptyNoResults
)

// Surface is the rendering collaborator the engine drives. A single logical
// refresh may produce any number of physical redraws; listeners registered
// with OnRedraw run after each one.
type Surface interface {
	SetSchema(columns []gateway.Column)
	SetRows(rows []gateway.Row)
	SetGroups(column string, groups []gateway.Group)
	SetCell(rowID int64, column, value string)
	SetPending(rowID int64, pending bool)

	// HasRow reports whether rowID is present in the currently rendered rows.
	HasRow(rowID int64) bool
	ScrollTo(rowID int64)
	Highlight(rowID int64, d time.Duration)

	ShowKpis(k gateway.Kpis)
	ShowEmpty(state EmptyState)
	SetUndoDepth(depth int)
	Notify(level NoticeLevel, msg string)

	// OnRedraw registers fn to run after every redraw. The returned func detaches it.
	OnRedraw(fn func()) (detach func())
}
