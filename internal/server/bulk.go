package server

import (
	"fmt"
	"net/http"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/store"
)

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req gateway.BulkUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required")
		return
	}
	res, err := s.store.BulkUpdate(r.Context(), datasetID(r), req.RowIDs, req.Column, req.Value, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeBulk(w, r, res, fmt.Sprintf("Updated %d rows", res.Affected), "All selected rows already hold that value")
}

func (s *Server) handleFindReplace(w http.ResponseWriter, r *http.Request) {
	var req gateway.FindReplaceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required")
		return
	}
	res, err := s.store.FindReplace(r.Context(), datasetID(r), req.RowIDs, req.Column, req.Find, req.Replace, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeBulk(w, r, res, fmt.Sprintf("Replaced %d cells", res.Affected), fmt.Sprintf("No selected cell equals %q", req.Find))
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req gateway.BulkDeleteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	res, err := s.store.BulkDelete(r.Context(), datasetID(r), req.RowIDs, actorFor(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeBulk(w, r, res, fmt.Sprintf("Deleted %d rows", res.Affected), "")
}

// writeBulk publishes a changed bulk mutation and writes its result.
func (s *Server) writeBulk(w http.ResponseWriter, r *http.Request, res *store.MutationResult, changed, unchanged string) {
	out := gateway.BulkResult{
		Status:    gateway.StatusSuccess,
		Message:   changed,
		Affected:  res.Affected,
		UndoDepth: res.Depth,
		Kpis:      toWireKpis(res.Kpis),
	}
	if !res.Changed {
		out.Status = gateway.StatusNoChange
		out.Message = unchanged
	} else {
		mutationsTotal.WithLabelValues(res.Action).Inc()
		s.publish(r.Context(), r, datasetID(r), res.Action, 0, res.Depth)
	}
	writeJSON(w, http.StatusOK, out)
}
