package ui

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/gridsync/gridsync/internal/editor"
	"github.com/rivo/tview"
)

// toggleMark marks or unmarks the row under the cursor for bulk actions.
func (ui *UI) toggleMark() {
	row, _, ok := ui.grid.Selection()
	if !ok {
		ui.setStatusDirect("[%s]Rows can only be marked in the detailed view[-:-:-]", ui.theme.TagWarning)
		return
	}
	if ui.grid.ToggleMark(row.ID) {
		ui.setStatusDirect("[%s]Marked row %d (%d marked)[-:-:-]", ui.theme.TagAccent, row.ID, len(ui.grid.Marked()))
		return
	}
	ui.setStatusDirect("[%s]Unmarked row %d (%d marked)[-:-:-]", ui.theme.TagAccent, row.ID, len(ui.grid.Marked()))
}

// markedOrWarn returns the marked rows, or nil after telling the user how to mark some.
func (ui *UI) markedOrWarn() []int64 {
	if ui.ctrl.State().Mode() != editor.ModeDetailed {
		ui.setStatusDirect("[%s]Switch to the detailed view to edit[-:-:-]", ui.theme.TagWarning)
		return nil
	}
	ids := ui.grid.Marked()
	if len(ids) == 0 {
		ui.setStatusDirect("[%s]Mark rows with Space first[-:-:-]", ui.theme.TagWarning)
		return nil
	}
	return ids
}

// editableChoices lists the user columns bulk actions may write to.
func (ui *UI) editableChoices() ([]string, []string) {
	var names, labels []string
	for _, c := range ui.ctrl.State().Columns() {
		if c.Editable {
			names = append(names, c.Name)
			labels = append(labels, columnLabel(c.Name))
		}
	}
	return names, labels
}

// runBulk runs fn on the marked rows and clears the marks once it succeeds.
func (ui *UI) runBulk(label string, fn func(ctx context.Context) error) {
	ui.do(label, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		ui.grid.ClearMarks()
		return nil
	})
}

// showBulkEditForm writes one value into a column of every marked row.
func (ui *UI) showBulkEditForm() {
	ids := ui.markedOrWarn()
	if ids == nil {
		return
	}
	columns, labels := ui.editableChoices()
	if len(columns) == 0 {
		ui.setStatusDirect("[%s]No editable columns[-:-:-]", ui.theme.TagWarning)
		return
	}
	column := columns[0]
	value := ""

	form := tview.NewForm()
	ui.styleForm(form, fmt.Sprintf("Bulk edit %d rows", len(ids)))
	form.AddDropDown("Column", labels, 0, func(option string, index int) {
		if index >= 0 && index < len(columns) {
			column = columns[index]
		}
	})
	form.AddInputField("New value", "", 40, nil, func(text string) { value = text })
	if field, ok := form.GetFormItemByLabel("New value").(*tview.InputField); ok {
		field.SetAutocompleteFunc(func(current string) []string {
			return matchOptions(ui.ctrl.State().Autocomplete(column), current)
		})
	}
	form.AddButton("Apply", func() {
		col, val := column, value
		ui.restoreMainLayout()
		ui.runBulk("bulk edit", func(ctx context.Context) error {
			return ui.ctrl.BulkUpdate(ctx, ids, col, val)
		})
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 64, 9)
}

// showFindReplaceForm replaces cells equal to the find text within the marked rows.
func (ui *UI) showFindReplaceForm() {
	ids := ui.markedOrWarn()
	if ids == nil {
		return
	}
	columns, labels := ui.editableChoices()
	if len(columns) == 0 {
		ui.setStatusDirect("[%s]No editable columns[-:-:-]", ui.theme.TagWarning)
		return
	}
	column := columns[0]
	find, replace := "", ""

	form := tview.NewForm()
	ui.styleForm(form, fmt.Sprintf("Find and replace in %d rows", len(ids)))
	form.AddDropDown("Column", labels, 0, func(option string, index int) {
		if index >= 0 && index < len(columns) {
			column = columns[index]
		}
	})
	form.AddInputField("Find (exact)", "", 40, nil, func(text string) { find = text })
	form.AddInputField("Replace with", "", 40, nil, func(text string) { replace = text })
	form.AddButton("Replace", func() {
		col, f, r := column, find, replace
		ui.restoreMainLayout()
		ui.runBulk("find and replace", func(ctx context.Context) error {
			return ui.ctrl.FindReplace(ctx, ids, col, f, r)
		})
	})
	form.AddButton("Cancel", ui.restoreMainLayout)
	ui.showDialog(form, 64, 11)
}

// showBulkDeleteConfirm deletes every marked row after confirmation.
func (ui *UI) showBulkDeleteConfirm() {
	ids := ui.markedOrWarn()
	if ids == nil {
		return
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete %d marked rows?\n\nOne undo restores all of them until changes are committed.", len(ids))).
		AddButtons([]string{"Delete", "Cancel"})
	modal.SetTitle(" Confirm Delete Rows ")
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
		ui.setStatusDirect("[%s]Deleting %d rows...[-:-:-]", ui.theme.TagWarning, len(ids))
		ui.runBulk("bulk delete", func(ctx context.Context) error {
			return ui.ctrl.BulkDelete(ctx, ids)
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

