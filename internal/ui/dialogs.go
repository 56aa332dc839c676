package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gridsync/gridsync/internal/editor"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/rivo/tview"
)

// derivedNames are offered next to the user columns in filter and group pickers.
var derivedNames = []string{gateway.ColumnRowStatus, gateway.ColumnPriority, gateway.ColumnRowID}

func (ui *UI) styleForm(form *tview.Form, title string) {
	form.SetTitle(fmt.Sprintf(" %s ", title))
	form.SetBorder(true)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetFieldBackgroundColor(ui.theme.SelectionBg)
	form.SetFieldTextColor(ui.theme.TextPrimary)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetBorderColor(ui.theme.FocusBorder)
	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			ui.restoreMainLayout()
			return nil
		}
		return event
	})
}

// showDialog centers p over the screen and focuses it.
func (ui *UI) showDialog(p tview.Primitive, width, height int) {
	grid := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(grid, true)
	ui.app.SetFocus(p)
}

func (ui *UI) showModal(title, text string) {
	modal := tview.NewModal()
	modal.SetText(text)
	modal.SetTitle(fmt.Sprintf(" %s ", title))
	modal.AddButtons([]string{"Close"})
	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetBorderColor(ui.theme.FocusBorder)
	modal.SetButtonBackgroundColor(ui.theme.SelectionBg)
	modal.SetButtonTextColor(ui.theme.SelectionFg)
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		ui.restoreMainLayout()
	})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			ui.restoreMainLayout()
			return nil
		}
		return event
	})

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(modal)
}

// restoreMainLayout restores the main layout after closing a dialog or the help view
func (ui *UI) restoreMainLayout() {
	ui.helpActive = false

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)
	ui.app.SetRoot(root, true)

	if ui.globalInputCapture != nil {
		ui.app.SetInputCapture(ui.globalInputCapture)
	}

	target := ui.lastFocus
	if target == nil {
		target = ui.grid.Table()
	}
	switch target.(type) {
	case *tview.Form, *tview.Modal, *tview.List, *tview.InputField, *tview.DropDown, *tview.Button:
		target = ui.grid.Table()
	}
	ui.lastFocus = nil
	ui.app.SetFocus(target)
}

// showDatasetPicker lists the service's datasets and opens the chosen one.
func (ui *UI) showDatasetPicker() {
	ui.setStatusDirect("[%s]Loading datasets...[-:-:-]", ui.theme.TagAccent)
	go func() {
		datasets, err := ui.svc.ListDatasets(ui.ctx)
		ui.queue(func() {
			if err != nil {
				ui.logger.Printf("list datasets: %v", err)
				ui.setStatusDirect("[%s]Could not list datasets: %s[-:-:-]", ui.theme.TagError, tview.Escape(err.Error()))
				return
			}
			if len(datasets) == 0 {
				ui.showModal("No datasets", "The service holds no datasets yet.\n\nLoad a workbook with `gridsync load <file.xlsx>`.")
				return
			}
			ui.showDatasetList(datasets)
		})
	}()
}

func (ui *UI) showDatasetList(datasets []gateway.Dataset) {
	list := tview.NewList()
	list.SetTitle(" Open dataset ")
	list.SetBorder(true)
	list.SetBackgroundColor(ui.theme.Surface)
	list.SetMainTextColor(ui.theme.TextPrimary)
	list.SetSecondaryTextColor(ui.theme.TextMuted)
	list.SetSelectedTextColor(ui.theme.SelectionFg)
	list.SetSelectedBackgroundColor(ui.theme.SelectionBg)
	list.SetBorderColor(ui.theme.FocusBorder)

	sort.SliceStable(datasets, func(i, j int) bool {
		return datasets[i].UpdatedAt.After(datasets[j].UpdatedAt)
	})
	for _, ds := range datasets {
		id := ds.ID
		secondary := fmt.Sprintf("%d rows, %d columns, updated %s", ds.RowCount, len(ds.Columns), ds.UpdatedAt.Format("2006-01-02 15:04"))
		list.AddItem(tview.Escape(ds.Name), secondary, 0, func() {
			ui.restoreMainLayout()
			ui.openDataset(id)
		})
	}
	list.SetDoneFunc(ui.restoreMainLayout)
	ui.showDialog(list, 70, 20)
}

func (ui *UI) columnChoices(withDerived bool) []string {
	var names []string
	for _, c := range ui.ctrl.State().Columns() {
		names = append(names, c.Name)
	}
	if withDerived {
		names = append(names, derivedNames...)
	}
	return names
}

// showFilterForm adds one (column, value) filter. Values autocomplete from the dataset.
func (ui *UI) showFilterForm() {
	state := ui.ctrl.State()
	if !state.HasDataset() {
		ui.setStatusDirect("[%s]Open a dataset first[-:-:-]", ui.theme.TagWarning)
		return
	}
	columns := ui.columnChoices(true)
	labels := make([]string, len(columns))
	for i, c := range columns {
		labels[i] = columnLabel(c)
	}
	column := columns[0]
	value := ""

	form := tview.NewForm()
	ui.styleForm(form, "Add filter")
	form.AddDropDown("Column", labels, 0, func(option string, index int) {
		if index >= 0 && index < len(columns) {
			column = columns[index]
		}
	})
	form.AddInputField("Contains", "", 40, nil, func(text string) { value = text })
	if field, ok := form.GetFormItemByLabel("Contains").(*tview.InputField); ok {
		field.SetAutocompleteFunc(func(current string) []string {
			return matchOptions(state.Autocomplete(column), current)
		})
	}
	form.AddButton("Add", func() {
		col, val := column, strings.TrimSpace(value)
		ui.restoreMainLayout()
		ui.do("add filter", func(ctx context.Context) error {
			return ui.ctrl.AddFilter(ctx, col, val)
		})
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 60, 9)
}

// matchOptions returns the options containing current, case-insensitively.
func matchOptions(options []string, current string) []string {
	current = strings.ToLower(strings.TrimSpace(current))
	if current == "" {
		return nil
	}
	var out []string
	for _, o := range options {
		if strings.Contains(strings.ToLower(o), current) {
			out = append(out, o)
			if len(out) == 20 {
				break
			}
		}
	}
	return out
}

// showGroupForm picks the aggregation column and switches to the grouped view.
func (ui *UI) showGroupForm() {
	state := ui.ctrl.State()
	if !state.HasDataset() {
		ui.setStatusDirect("[%s]Open a dataset first[-:-:-]", ui.theme.TagWarning)
		return
	}
	columns := ui.columnChoices(true)
	labels := make([]string, len(columns))
	initial := 0
	for i, c := range columns {
		labels[i] = columnLabel(c)
		if c == state.GroupColumn() {
			initial = i
		}
	}
	column := columns[initial]

	form := tview.NewForm()
	ui.styleForm(form, "Group by")
	form.AddDropDown("Column", labels, initial, func(option string, index int) {
		if index >= 0 && index < len(columns) {
			column = columns[index]
		}
	})
	form.AddButton("Group", func() {
		col := column
		ui.restoreMainLayout()
		ui.do("group", func(ctx context.Context) error {
			return ui.ctrl.Group(ctx, col)
		})
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 50, 7)
}

// showEditCell edits the cell under the cursor.
func (ui *UI) showEditCell() {
	if ui.ctrl.State().Mode() != editor.ModeDetailed {
		ui.setStatusDirect("[%s]Switch to the detailed view to edit[-:-:-]", ui.theme.TagWarning)
		return
	}
	row, column, ok := ui.grid.Selection()
	if !ok {
		ui.setStatusDirect("[%s]Select a cell first[-:-:-]", ui.theme.TagWarning)
		return
	}
	col, known := ui.ctrl.State().Column(column)
	if !known || !col.Editable {
		ui.setStatusDirect("[%s]%s is not editable[-:-:-]", ui.theme.TagWarning, tview.Escape(columnLabel(column)))
		return
	}

	old := displayValue(&row, column)
	value := old
	label := "Value"
	if col.Kind == gateway.KindDate {
		label = "Date (YYYY-MM-DD)"
	}

	form := tview.NewForm()
	ui.styleForm(form, fmt.Sprintf("Row %d: %s", row.ID, tview.Escape(column)))
	form.AddInputField(label, old, 40, nil, func(text string) { value = text })
	save := func() {
		rowID, newValue := row.ID, value
		ui.restoreMainLayout()
		ui.do("edit", func(ctx context.Context) error {
			out := ui.ctrl.Edit(ctx, rowID, column, newValue, old)
			switch out.Result {
			case editor.EditApplied:
				ui.setStatus("[%s]Saved row %d %s[-:-:-]", ui.theme.TagSuccess, rowID, tview.Escape(column))
			case editor.EditReverted:
				ui.setStatus("[%s]A date cannot be cleared; kept %s[-:-:-]", ui.theme.TagWarning, tview.Escape(out.Value))
			}
			return out.Err
		})
	}
	if field, ok := form.GetFormItemByLabel(label).(*tview.InputField); ok {
		field.SetAutocompleteFunc(func(current string) []string {
			return matchOptions(ui.ctrl.State().Autocomplete(column), current)
		})
	}
	form.AddButton("Save", save)
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 64, 7)
}

// showDeleteRowConfirm deletes the row under the cursor after confirmation.
func (ui *UI) showDeleteRowConfirm() {
	row, _, ok := ui.grid.Selection()
	if !ok {
		ui.setStatusDirect("[%s]Select a row first[-:-:-]", ui.theme.TagWarning)
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete row %d?\n\nIt can be restored with undo until changes are committed.", row.ID)).
		AddButtons([]string{"Delete", "Cancel"})
	modal.SetTitle(" Confirm Delete Row ")
	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetBorderColor(ui.theme.FocusBorder)
	modal.SetButtonBackgroundColor(ui.theme.SelectionBg)
	modal.SetButtonTextColor(ui.theme.SelectionFg)
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		ui.restoreMainLayout()
		if buttonLabel != "Delete" {
			return
		}
		ui.setStatusDirect("[%s]Deleting row %d...[-:-:-]", ui.theme.TagWarning, row.ID)
		ui.do("delete row", func(ctx context.Context) error {
			if err := ui.ctrl.DeleteRow(ctx, row.ID); err != nil {
				return err
			}
			ui.setStatus("[%s]Row %d deleted[-:-:-]", ui.theme.TagSuccess, row.ID)
			return nil
		})
	})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			ui.restoreMainLayout()
			return nil
		}
		return event
	})

	ui.lastFocus = ui.app.GetFocus()
	ui.app.SetRoot(modal, true)
	ui.app.SetFocus(modal)
}

// showColumnsForm sets the visible columns as a comma-separated list. Empty shows all.
func (ui *UI) showColumnsForm() {
	state := ui.ctrl.State()
	if !state.HasDataset() {
		return
	}
	var current []string
	for _, c := range state.VisibleColumns() {
		current = append(current, c.Name)
	}
	value := strings.Join(current, ", ")

	form := tview.NewForm()
	ui.styleForm(form, "Visible columns")
	form.AddInputField("Columns", value, 60, nil, func(text string) { value = text })
	form.AddButton("Apply", func() {
		ui.restoreMainLayout()
		if err := ui.ctrl.SetVisibleColumns(splitList(value)); err == nil {
			ui.setStatusDirect("[%s]Columns updated[-:-:-]", ui.theme.TagSuccess)
		}
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 80, 7)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// showSearchForm searches the rendered rows. n jumps to the next match.
func (ui *UI) showSearchForm() {
	query := ui.searchQuery
	form := tview.NewForm()
	ui.styleForm(form, "Search rows")
	form.AddInputField("Find", query, 40, nil, func(text string) { query = text })
	form.AddButton("Find", func() {
		ui.restoreMainLayout()
		ui.searchQuery = query
		ui.lastMatch = 0
		ui.searchNext()
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 60, 7)
}

func (ui *UI) searchNext() {
	if strings.TrimSpace(ui.searchQuery) == "" {
		return
	}
	id, ok := ui.grid.Find(ui.searchQuery, ui.lastMatch)
	if !ok {
		ui.setStatusDirect("[%s]No rows contain %q[-:-:-]", ui.theme.TagWarning, tview.Escape(ui.searchQuery))
		return
	}
	ui.lastMatch = id
	ui.grid.ScrollTo(id)
	ui.grid.Highlight(id, ui.highlightDuration())
	ui.setStatusDirect("[%s]Match in row %d[-:-:-]", ui.theme.TagSuccess, id)
}

func (ui *UI) highlightDuration() time.Duration {
	if ui.opts.HighlightDuration > 0 {
		return ui.opts.HighlightDuration
	}
	return editor.DefaultHighlightDuration
}

// showSaveViewForm stores the current view under a name.
func (ui *UI) showSaveViewForm() {
	if !ui.ctrl.State().HasDataset() {
		return
	}
	name := ""
	form := tview.NewForm()
	ui.styleForm(form, "Save view")
	form.AddInputField("Name", "", 30, nil, func(text string) { name = strings.TrimSpace(text) })
	form.AddButton("Save", func() {
		if name == "" {
			ui.setStatusDirect("[%s]Name is required[-:-:-]", ui.theme.TagError)
			return
		}
		ui.restoreMainLayout()
		if err := editor.SaveViewFile(ui.opts.ViewsPath, ui.ctrl.CaptureView(name)); err != nil {
			ui.logger.Printf("save view: %v", err)
			ui.setStatusDirect("[%s]Could not save view: %s[-:-:-]", ui.theme.TagError, tview.Escape(err.Error()))
			return
		}
		ui.setStatusDirect("[%s]View %q saved[-:-:-]", ui.theme.TagSuccess, tview.Escape(name))
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 50, 7)
}

// showApplyViewForm lists saved views and applies the chosen one.
func (ui *UI) showApplyViewForm() {
	if !ui.ctrl.State().HasDataset() {
		return
	}
	views, err := editor.LoadViewsFile(ui.opts.ViewsPath)
	if err != nil {
		ui.setStatusDirect("[%s]Could not read views: %s[-:-:-]", ui.theme.TagError, tview.Escape(err.Error()))
		return
	}
	if len(views) == 0 {
		ui.setStatusDirect("[%s]No saved views in %s[-:-:-]", ui.theme.TagWarning, tview.Escape(ui.opts.ViewsPath))
		return
	}

	list := tview.NewList()
	list.SetTitle(" Apply view ")
	list.SetBorder(true)
	list.SetBackgroundColor(ui.theme.Surface)
	list.SetMainTextColor(ui.theme.TextPrimary)
	list.SetSecondaryTextColor(ui.theme.TextMuted)
	list.SetSelectedTextColor(ui.theme.SelectionFg)
	list.SetSelectedBackgroundColor(ui.theme.SelectionBg)
	list.SetBorderColor(ui.theme.FocusBorder)
	for _, v := range views {
		v := v
		secondary := fmt.Sprintf("%s, %d filters", v.Mode, len(v.Filters))
		if v.GroupColumn != "" {
			secondary += ", grouped by " + columnLabel(v.GroupColumn)
		}
		list.AddItem(tview.Escape(v.Name), tview.Escape(secondary), 0, func() {
			ui.restoreMainLayout()
			ui.do("apply view", func(ctx context.Context) error {
				if err := ui.ctrl.ApplyView(ctx, v); err != nil {
					ui.setStatus("[%s]%s[-:-:-]", ui.theme.TagError, tview.Escape(err.Error()))
					return err
				}
				ui.setStatus("[%s]View %q applied[-:-:-]", ui.theme.TagSuccess, tview.Escape(v.Name))
				return nil
			})
		})
	}
	list.SetDoneFunc(ui.restoreMainLayout)
	ui.showDialog(list, 60, 16)
}

// showHelp displays the key reference.
func (ui *UI) showHelp() {
	ui.helpActive = true

	table := tview.NewTable().SetBorders(false)
	table.SetBorder(true).
		SetTitle(" gridsync help ").
		SetTitleAlign(tview.AlignLeft)
	table.SetBorderColor(ui.theme.FocusBorder)
	table.SetBackgroundColor(ui.theme.Surface)
	table.SetSelectable(true, false)
	table.SetSelectedStyle(tcell.StyleDefault.Background(ui.theme.Surface).Foreground(ui.theme.TextPrimary))

	row := 0
	keyColWidth := 12
	addSection := func(title string) {
		table.SetCell(row, 0, tview.NewTableCell(strings.Repeat(" ", keyColWidth)).
			SetBackgroundColor(ui.theme.TableHeaderBg))
		table.SetCell(row, 1, tview.NewTableCell(" "+title+" ").
			SetTextColor(ui.theme.TableHeader).
			SetBackgroundColor(ui.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
		row++
	}
	addKV := func(k, v string) {
		table.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%-*s", keyColWidth, k)).
			SetTextColor(ui.theme.Accent).
			SetAttributes(tcell.AttrBold))
		table.SetCell(row, 1, tview.NewTableCell(v).SetTextColor(ui.theme.TextPrimary))
		row++
	}

	addSection("Dataset")
	addKV("o", "Open a dataset")
	addKV("r", "Reload columns and rows")
	addSection("View")
	addKV("f", "Add a filter")
	addKV("x / X", "Remove the last filter / clear all")
	addKV("g", "Group by a column")
	addKV("m", "Toggle detailed and grouped")
	addKV("v", "Choose visible columns")
	addKV("/ , n", "Search rows, next match")
	addKV("s / l", "Save / load a view")
	addSection("Edit")
	addKV("Enter, e", "Edit the selected cell")
	addKV("a", "Add a row")
	addKV("d", "Delete the selected row")
	addKV("Space", "Mark or unmark the row")
	addKV("B", "Set a column on marked rows")
	addKV("R", "Find and replace in marked rows")
	addKV("D", "Delete the marked rows")
	addKV("Esc", "Clear marks")
	addKV("u, Ctrl+Z", "Undo the last change")
	addKV("c", "Commit (clear undo history)")
	addSection("General")
	addKV("t", "Cycle theme")
	addKV("?", "This help")
	addKV("q", "Quit")

	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter:
			ui.restoreMainLayout()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' || event.Rune() == ' ' || event.Rune() == '?' {
				ui.restoreMainLayout()
				return nil
			}
		}
		return event
	})
	ui.showDialog(table, 56, row+2)
}
