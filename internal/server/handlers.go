package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gridsync/gridsync/internal/bus"
	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/ingest"
	"github.com/gridsync/gridsync/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleHealthz reports the service as degraded, not down, when the change bus is unreachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if err := s.bus.HealthCheck(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["bus_error"] = err.Error()
	} else if stats, err := s.bus.GetStats(r.Context()); err == nil {
		resp["bus"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListDatasets(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]gateway.Dataset, 0, len(list))
	for i := range list {
		out = append(out, toWireDataset(&list[i], nil))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": out})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing workbook: %v", err))
		return
	}
	defer file.Close()

	sheet, err := ingest.LoadWorkbook(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := actorFor(r)
	ds, err := ingest.Import(r.Context(), s.store, sheet, s.opts.DateColumns, actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mutationsTotal.WithLabelValues("import").Inc()
	s.publish(r.Context(), r, ds.ID, "import", 0, 0)

	s.writeDescribe(r.Context(), w, http.StatusCreated, ds)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.GetDataset(r.Context(), datasetID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeDescribe(r.Context(), w, http.StatusOK, ds)
}

func (s *Server) writeDescribe(ctx context.Context, w http.ResponseWriter, status int, ds *store.Dataset) {
	ac, err := s.store.Autocomplete(ctx, ds.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, status, toWireDataset(ds, ac))
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := datasetID(r)
	if err := s.store.DeleteDataset(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	mutationsTotal.WithLabelValues("drop").Inc()
	s.publish(r.Context(), r, id, "drop", 0, 0)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req gateway.FilterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	rows, kpis, err := s.store.Filter(r.Context(), datasetID(r), toStoreFilters(req.Filters))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	fetchesTotal.WithLabelValues("filter").Inc()
	writeJSON(w, http.StatusOK, gateway.FilterResult{
		Rows:     toWireRows(rows),
		Kpis:     toWireKpis(kpis),
		RowCount: len(rows),
	})
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var req gateway.GroupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Column) == "" {
		writeError(w, http.StatusBadRequest, "column is required")
		return
	}
	groups, err := s.store.Group(r.Context(), datasetID(r), toStoreFilters(req.Filters), req.Column)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	fetchesTotal.WithLabelValues("group").Inc()
	writeJSON(w, http.StatusOK, gateway.GroupResult{Groups: toWireGroups(groups)})
}

func (s *Server) handleMutateCell(w http.ResponseWriter, r *http.Request) {
	var req gateway.MutateCellRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Column == "" || req.RowID <= 0 {
		writeError(w, http.StatusBadRequest, "row_id and column are required")
		return
	}
	id := datasetID(r)
	res, err := s.store.UpdateCell(r.Context(), id, req.RowID, req.Column, req.Value, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := gateway.MutateResult{
		Status:    gateway.StatusSuccess,
		Kpis:      toWireKpis(res.Kpis),
		UndoDepth: res.Depth,
	}
	if res.Row != nil {
		out.RowStatus = res.Row.Status
		out.Priority = res.Row.Priority
	}
	if !res.Changed {
		out.Status = gateway.StatusNoChange
	} else {
		mutationsTotal.WithLabelValues(store.ActionUpdate).Inc()
		s.publish(r.Context(), r, id, store.ActionUpdate, req.RowID, res.Depth)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	id := datasetID(r)
	res, err := s.store.AddRow(r.Context(), id, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	mutationsTotal.WithLabelValues(store.ActionAdd).Inc()
	s.publish(r.Context(), r, id, store.ActionAdd, res.Row.ID, res.Depth)
	writeJSON(w, http.StatusCreated, gateway.AddRowResult{
		NewRowID:  res.Row.ID,
		UndoDepth: res.Depth,
		Kpis:      toWireKpis(res.Kpis),
	})
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil || rowID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return
	}
	id := datasetID(r)
	res, err := s.store.DeleteRow(r.Context(), id, rowID, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	mutationsTotal.WithLabelValues(store.ActionDelete).Inc()
	s.publish(r.Context(), r, id, store.ActionDelete, rowID, res.Depth)
	writeJSON(w, http.StatusOK, gateway.DeleteRowResult{
		UndoDepth: res.Depth,
		Kpis:      toWireKpis(res.Kpis),
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id := datasetID(r)
	res, err := s.store.Undo(r.Context(), id, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	mutationsTotal.WithLabelValues(store.ActionUndo).Inc()
	var rowID int64
	if res.AffectedRowID != nil {
		rowID = *res.AffectedRowID
	}
	s.publish(r.Context(), r, id, store.ActionUndo, rowID, res.Depth)
	writeJSON(w, http.StatusOK, gateway.UndoResult{
		Action:        res.Action,
		ActionLabel:   undoLabel(res),
		AffectedRowID: res.AffectedRowID,
		UndoDepth:     res.Depth,
		Kpis:          toWireKpis(res.Kpis),
	})
}

func undoLabel(res *store.MutationResult) string {
	switch res.Action {
	case store.ActionBulkUpdate:
		return fmt.Sprintf("Undid bulk edit of %d rows", res.Affected)
	case store.ActionBulkDelete:
		return fmt.Sprintf("Undid delete of %d rows", res.Affected)
	case store.ActionUpdate:
		return fmt.Sprintf("Undid edit of row %d", *res.AffectedRowID)
	case store.ActionDelete:
		return fmt.Sprintf("Undid delete of row %d", *res.AffectedRowID)
	case store.ActionAdd:
		return "Undid add row"
	default:
		return "Undid " + res.Action
	}
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id := datasetID(r)
	if err := s.store.Commit(r.Context(), id, actorFor(r)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	mutationsTotal.WithLabelValues(store.ActionCommit).Inc()
	s.publish(r.Context(), r, id, store.ActionCommit, 0, 0)
	writeJSON(w, http.StatusOK, gateway.CommitResult{Message: "Changes committed", UndoDepth: 0})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	id := datasetID(r)
	if _, err := s.store.GetDataset(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	entries, err := s.store.GetAuditEntries(r.Context(), id, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]gateway.AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, gateway.AuditEntry{
			ID:        e.ID,
			DatasetID: e.DatasetID,
			RowID:     e.RowID,
			Action:    e.Action,
			Actor:     e.Actor,
			Details:   e.Details,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// handleExport writes the filtered rows, or their groups when a column is given, as a workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req gateway.GroupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := datasetID(r)
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	filters := toStoreFilters(req.Filters)

	var (
		headers []string
		records [][]string
		sheet   = "Detailed"
	)
	if req.Column != "" {
		groups, err := s.store.Group(ctx, id, filters, req.Column)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		sheet = "Grouped"
		headers, records = groupRecords(req.Column, groups)
	} else {
		rows, _, err := s.store.Filter(ctx, id, filters)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		headers, records = rowRecords(ds, rows)
	}
	fetchesTotal.WithLabelValues("export").Inc()

	name := strings.TrimSuffix(ds.Name, ".xlsx") + "-" + strings.ToLower(sheet) + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := ingest.WriteWorkbook(w, sheet, headers, records); err != nil {
		s.logger.Printf("export %s failed: %v", id, err)
	}
}

func rowRecords(ds *store.Dataset, rows []store.Row) ([]string, [][]string) {
	headers := []string{"Row"}
	for _, c := range ds.Columns {
		headers = append(headers, c.Name)
	}
	headers = append(headers, "Status", "Priority")

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		rec := []string{strconv.FormatInt(row.ID, 10)}
		for _, c := range ds.Columns {
			rec = append(rec, row.Values[c.Name])
		}
		rec = append(rec, row.Status, row.Priority)
		records = append(records, rec)
	}
	return headers, records
}

func groupRecords(column string, groups []store.Group) ([]string, [][]string) {
	headers := []string{column, "Total", "Mean", "Min", "Max", "Count"}
	records := make([][]string, 0, len(groups))
	for _, g := range groups {
		records = append(records, []string{
			g.Key,
			strconv.FormatFloat(g.Sum, 'f', 2, 64),
			strconv.FormatFloat(g.Mean, 'f', 2, 64),
			strconv.FormatFloat(g.Min, 'f', 2, 64),
			strconv.FormatFloat(g.Max, 'f', 2, 64),
			strconv.Itoa(g.Count),
		})
	}
	return headers, records
}

// publish announces a mutation on the bus. Failures are logged, never returned to the caller.
func (s *Server) publish(ctx context.Context, r *http.Request, datasetID, action string, rowID int64, depth int) {
	err := s.bus.PublishChange(ctx, bus.ChangeMessage{
		DatasetID: datasetID,
		Action:    action,
		RowID:     rowID,
		UndoDepth: depth,
		Origin:    r.Header.Get(gateway.ClientHeader),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		s.logger.Printf("failed to publish %s for %s: %v", action, datasetID, err)
	}
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// writeStoreError maps store errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnknownColumn), errors.Is(err, store.ErrReadOnlyColumn),
		errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNothingToUndo):
		writeError(w, http.StatusConflict, "Nothing to undo")
	default:
		s.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, gateway.ErrorResponse{Error: msg})
}

// datasetID returns the unescaped {id} URL parameter.
func datasetID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}
