package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/editor"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/rivo/tview"
)

// Service is what the terminal editor needs from the dataset service.
type Service interface {
	gateway.Gateway
	ListDatasets(ctx context.Context) ([]gateway.Dataset, error)
}

// Options configures the terminal editor.
type Options struct {
	// ClientID tags this session's requests; change notifications carrying it are ignored.
	ClientID string
	// DatasetID is opened at startup. When empty the dataset picker is shown.
	DatasetID string
	// ViewsPath is the YAML file saved views are read from and written to.
	ViewsPath         string
	Theme             string
	MaxAttempts       int
	HighlightDuration time.Duration
	Bus               bus.Bus
	Logger            *log.Logger
}

// UI represents the terminal user interface
type UI struct {
	app    *tview.Application
	svc    Service
	ctrl   *editor.Controller
	grid   *Grid
	bus    bus.Bus
	logger *log.Logger
	opts   Options

	// Layout components
	layout    *tview.Flex
	appTitle  *tview.TextView
	filterBar *tview.TextView
	statusBar *tview.TextView

	// Theme state
	theme        Theme
	themeName    string
	hasTrueColor bool

	// Runtime
	running    int32
	helpActive bool
	lastFocus  tview.Primitive

	// Global input capture for the grid (restored after dialogs)
	globalInputCapture func(*tcell.EventKey) *tcell.EventKey

	// Quick search
	searchQuery string
	lastMatch   int64

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUI builds the editor UI around svc.
func NewUI(ctx context.Context, svc Service, opts Options) *UI {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[UI] ", log.LstdFlags)
	}
	if opts.ViewsPath == "" {
		opts.ViewsPath = "views.yaml"
	}

	uiCtx, cancel := context.WithCancel(ctx)
	ui := &UI{
		app:          tview.NewApplication(),
		svc:          svc,
		bus:          opts.Bus,
		logger:       opts.Logger,
		opts:         opts,
		ctx:          uiCtx,
		cancel:       cancel,
		hasTrueColor: detectTrueColor(),
	}
	ui.theme, ui.themeName = themeByName(opts.Theme)

	ui.grid = NewGrid(ui.theme, ui.queue)
	ui.grid.OnNotice(ui.notice)
	ui.ctrl = editor.NewController(svc, ui.grid, editor.Options{
		MaxAttempts:       opts.MaxAttempts,
		HighlightDuration: opts.HighlightDuration,
		Logger:            opts.Logger,
	})
	ui.ctrl.Reconciler().OnSettled(func(r editor.ReconcileResult) {
		ui.logger.Printf("focus on row %d settled: %s after %d redraws", r.Target, r.State, r.Attempts)
	})

	ui.setupLayout()
	ui.setupKeybindings()
	ui.applyTheme()
	ui.app.SetAfterDrawFunc(func(tcell.Screen) { ui.grid.AfterDraw() })
	return ui
}

// Controller exposes the editing engine.
func (ui *UI) Controller() *editor.Controller { return ui.ctrl }

// Start runs the TUI until ctx is done or the user quits.
func (ui *UI) Start(ctx context.Context) error {
	ui.logger.Printf("Starting TUI application (truecolor=%v)", ui.hasTrueColor)

	go func() {
		if ui.opts.DatasetID != "" {
			ui.openDataset(ui.opts.DatasetID)
			return
		}
		ui.app.QueueUpdateDraw(ui.showDatasetPicker)
	}()

	if ui.bus != nil {
		go ui.watchChanges()
	}

	go func() {
		select {
		case <-ctx.Done():
			ui.logger.Println("External context cancelled, stopping TUI")
		case <-ui.ctx.Done():
			ui.logger.Println("UI context cancelled, stopping TUI")
		}
		ui.cancel()
		ui.app.Stop()
	}()

	ui.startRedrawHeartbeat()

	atomic.StoreInt32(&ui.running, 1)
	err := ui.app.Run()
	atomic.StoreInt32(&ui.running, 0)
	ui.cancel()
	ui.logger.Printf("app.Run() returned with error: %v", err)
	return err
}

// Stop stops the TUI application
func (ui *UI) Stop() {
	ui.logger.Println("Stopping TUI application")
	ui.cancel()
	ui.app.Stop()
}

// queue runs f on the UI goroutine, or inline when the app is not running (tests, setup).
func (ui *UI) queue(f func()) {
	if atomic.LoadInt32(&ui.running) == 1 {
		ui.app.QueueUpdateDraw(f)
		return
	}
	f()
}

// do runs an engine call off the UI goroutine. The engine reports failures
// through Notify, so errors are only logged here.
func (ui *UI) do(label string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(ui.ctx); err != nil {
			ui.logger.Printf("%s: %v", label, err)
		}
		ui.queue(ui.updateFilterBar)
	}()
}

// setupLayout creates the main layout
func (ui *UI) setupLayout() {
	ui.appTitle = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	ui.filterBar = tview.NewTextView().
		SetDynamicColors(true)

	ui.statusBar = tview.NewTextView().
		SetDynamicColors(true)
	ui.statusBar.SetText("[yellow]gridsync[white] | [green]q[white]:quit [green]?[white]:help")

	ui.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.appTitle, 1, 0, false).
		AddItem(ui.filterBar, 1, 0, false).
		AddItem(ui.grid.Table(), 0, 1, true).
		AddItem(ui.grid.KpiBar(), 1, 0, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)
	ui.app.SetRoot(root, true)
	ui.app.SetFocus(ui.grid.Table())

	ui.grid.Table().SetSelectedFunc(func(row, column int) {
		ui.showEditCell()
	})
	ui.updateFilterBar()
}

// setupKeybindings installs the global shortcuts.
func (ui *UI) setupKeybindings() {
	handler := func(event *tcell.EventKey) *tcell.EventKey {
		// While a modal or form is active, allow it to handle all keys.
		if ui.isDialogActive() {
			return event
		}

		switch event.Key() {
		case tcell.KeyCtrlC:
			ui.Stop()
			return nil
		case tcell.KeyCtrlZ:
			ui.undo()
			return nil
		case tcell.KeyEsc:
			ui.grid.ClearMarks()
			ui.setStatusDirect("[%s]Ready[-:-:-]", ui.theme.TagAccent)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				ui.Stop()
				return nil
			case '?', 'h':
				ui.showHelp()
				return nil
			case 'o':
				ui.showDatasetPicker()
				return nil
			case 'r':
				ui.setStatusDirect("[%s]Refreshing...[-:-:-]", ui.theme.TagAccent)
				ui.do("reload", ui.ctrl.Reload)
				return nil
			case 'f':
				ui.showFilterForm()
				return nil
			case 'x':
				ui.removeLastFilter()
				return nil
			case 'X':
				ui.do("clear filters", ui.ctrl.ClearFilters)
				return nil
			case 'g':
				ui.showGroupForm()
				return nil
			case 'm':
				ui.toggleMode()
				return nil
			case 'e':
				ui.showEditCell()
				return nil
			case 'a':
				ui.do("add row", ui.ctrl.AddRow)
				return nil
			case 'd':
				ui.showDeleteRowConfirm()
				return nil
			case ' ':
				ui.toggleMark()
				return nil
			case 'B':
				ui.showBulkEditForm()
				return nil
			case 'R':
				ui.showFindReplaceForm()
				return nil
			case 'D':
				ui.showBulkDeleteConfirm()
				return nil
			case 'u':
				ui.undo()
				return nil
			case 'c':
				ui.commit()
				return nil
			case 'v':
				ui.showColumnsForm()
				return nil
			case '/':
				ui.showSearchForm()
				return nil
			case 'n':
				ui.searchNext()
				return nil
			case 's':
				ui.showSaveViewForm()
				return nil
			case 'l':
				ui.showApplyViewForm()
				return nil
			case 't':
				ui.cycleTheme()
				return nil
			}
		}
		return event
	}
	ui.globalInputCapture = handler
	ui.app.SetInputCapture(handler)
}

func (ui *UI) undo() {
	state := ui.ctrl.State()
	if !state.HasDataset() {
		return
	}
	ui.setStatusDirect("[%s]Undoing...[-:-:-]", ui.theme.TagAccent)
	ui.do("undo", ui.ctrl.Undo)
}

func (ui *UI) commit() {
	if !ui.ctrl.State().HasDataset() {
		return
	}
	ui.do("commit", ui.ctrl.Commit)
}

func (ui *UI) toggleMode() {
	state := ui.ctrl.State()
	if !state.HasDataset() {
		return
	}
	if state.Mode() == editor.ModeGrouped {
		ui.do("switch mode", func(ctx context.Context) error {
			return ui.ctrl.SwitchMode(ctx, editor.ModeDetailed, false)
		})
		return
	}
	if state.GroupColumn() == "" {
		ui.showGroupForm()
		return
	}
	ui.do("switch mode", func(ctx context.Context) error {
		return ui.ctrl.SwitchMode(ctx, editor.ModeGrouped, false)
	})
}

func (ui *UI) removeLastFilter() {
	n := len(ui.ctrl.State().Filters())
	if n == 0 {
		ui.setStatusDirect("[%s]No filters to remove[-:-:-]", ui.theme.TagWarning)
		return
	}
	ui.do("remove filter", func(ctx context.Context) error {
		return ui.ctrl.RemoveFilter(ctx, n-1)
	})
}

func (ui *UI) openDataset(id string) {
	ui.setStatus("[%s]Opening %s...[-:-:-]", ui.theme.TagAccent, id)
	ui.do("open "+id, func(ctx context.Context) error {
		if err := ui.ctrl.Open(ctx, id); err != nil {
			return err
		}
		ui.queue(ui.updateTitle)
		ui.setStatus("[%s]Opened %s[-:-:-]", ui.theme.TagSuccess, ui.ctrl.State().DatasetName())
		return nil
	})
}

// notice renders engine notices on the status bar.
func (ui *UI) notice(level editor.NoticeLevel, msg string) {
	ui.setStatus("[%s]%s[-:-:-]", ui.theme.noticeTag(level.String()), tview.Escape(msg))
}

// startRedrawHeartbeat periodically requests a redraw to mitigate terminals that miss repaints
func (ui *UI) startRedrawHeartbeat() {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ui.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&ui.running) == 1 {
					ui.app.QueueUpdateDraw(func() {})
				}
			}
		}
	}()
}

// isDialogActive returns true when a dialog or the help view is focused to bypass global shortcuts.
func (ui *UI) isDialogActive() bool {
	if ui.helpActive {
		return true
	}
	focused := ui.app.GetFocus()
	if focused == nil {
		return false
	}
	switch focused.(type) {
	case *tview.Form,
		*tview.Modal,
		*tview.InputField,
		*tview.DropDown,
		*tview.List,
		*tview.Button:
		return true
	default:
		return false
	}
}

// updateTitle shows the open dataset. UI goroutine only.
func (ui *UI) updateTitle() {
	name := ui.ctrl.State().DatasetName()
	if name == "" {
		name = "no dataset"
	}
	ui.appTitle.SetText(fmt.Sprintf(" [%s]gridsync[-] [%s]%s[-]", ui.theme.TagAccent, ui.theme.TagMuted, tview.Escape(name)))
}

// updateFilterBar shows mode, group column and filters. UI goroutine only.
func (ui *UI) updateFilterBar() {
	state := ui.ctrl.State()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(" [%s]%s[-]", ui.theme.TagAccent, state.Mode()))
	if col := state.GroupColumn(); col != "" && state.Mode() == editor.ModeGrouped {
		sb.WriteString(fmt.Sprintf(" by [%s]%s[-]", ui.theme.TagTextPrimary, tview.Escape(columnLabel(col))))
	}
	filters := state.Filters()
	if len(filters) == 0 {
		sb.WriteString(fmt.Sprintf("  [%s]no filters[-]", ui.theme.TagMuted))
	}
	for i, f := range filters {
		sb.WriteString(fmt.Sprintf("  [%s]%d[-] %s=%s", ui.theme.TagMuted, i+1,
			tview.Escape(columnLabel(f.Column)), tview.Escape(f.Value)))
	}
	ui.filterBar.SetText(sb.String())
}

// setStatus updates the status bar from any goroutine.
func (ui *UI) setStatus(format string, args ...interface{}) {
	text := ui.statusText(fmt.Sprintf(format, args...))
	ui.queue(func() { ui.statusBar.SetText(text) })
}

// setStatusDirect updates the status bar immediately. UI goroutine only.
func (ui *UI) setStatusDirect(format string, args ...interface{}) {
	ui.statusBar.SetText(ui.statusText(fmt.Sprintf(format, args...)))
}

func (ui *UI) statusText(message string) string {
	return fmt.Sprintf("[%s]%s[-] [%s]|[-] %s [%s]|[-] %s",
		ui.theme.TagMuted, time.Now().Format("15:04:05"),
		ui.theme.TagTextPrimary,
		message,
		ui.theme.TagMuted,
		ui.buildShortcutHints())
}

// buildShortcutHints returns the most relevant shortcuts for the current mode.
func (ui *UI) buildShortcutHints() string {
	type kv struct{ key, label string }
	hints := []kv{{"?", "help"}}
	state := ui.ctrl.State()
	switch {
	case !state.HasDataset():
		hints = append(hints, kv{"o", "open"})
	case state.Mode() == editor.ModeGrouped:
		hints = append(hints, kv{"m", "detailed"}, kv{"g", "group by"}, kv{"f", "filter"})
	default:
		hints = append(hints, kv{"Enter", "edit"}, kv{"f", "filter"}, kv{"a", "add"})
		if n := len(ui.grid.Marked()); n > 0 {
			hints = append(hints, kv{"B", fmt.Sprintf("bulk edit %d", n)}, kv{"D", "delete marked"})
		}
		if state.CanUndo() {
			hints = append(hints, kv{"u", "undo"}, kv{"c", "commit"})
		}
	}
	hints = append(hints, kv{"q", "quit"})

	var sb strings.Builder
	for i, h := range hints {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("[%s]%s[-]:%s", ui.theme.TagAccent, h.key, h.label))
	}
	return sb.String()
}

// applyTheme pushes theme colors to widgets
func (ui *UI) applyTheme() {
	ui.logger.Printf("Applying theme: %s", ui.themeName)
	ui.appTitle.SetBackgroundColor(ui.theme.Surface)
	ui.appTitle.SetTextColor(ui.theme.TextPrimary)
	ui.filterBar.SetBackgroundColor(ui.theme.Surface)
	ui.filterBar.SetTextColor(ui.theme.TextPrimary)
	ui.statusBar.SetBackgroundColor(ui.theme.Surface)
	ui.statusBar.SetTextColor(ui.theme.TextPrimary)
	ui.grid.SetTheme(ui.theme)
	ui.updateTitle()
	ui.updateFilterBar()
}

// cycleTheme moves to the next theme in sequence
func (ui *UI) cycleTheme() {
	ui.theme, ui.themeName = themeByName(nextThemeName(ui.themeName))
	ui.applyTheme()
	ui.setStatusDirect("[%s]Theme: %s[-:-:-]", ui.theme.TagAccent, ui.themeName)
}
