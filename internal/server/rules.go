package server

import (
	"net/http"

	"github.com/gridsync/gridsync/internal/gateway"
	"github.com/gridsync/gridsync/internal/store"
)

// actionReprioritize is announced for every dataset whose priorities a rule change rewrote.
const actionReprioritize = "reprioritize"

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	s.writeRules(w, r, nil)
}

func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	var req gateway.PriorityRule
	if !s.decodeJSON(w, r, &req) {
		return
	}
	changed, err := s.store.SavePriorityRule(r.Context(), toStoreRule(req))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeRules(w, r, changed)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	var req gateway.RuleKey
	if !s.decodeJSON(w, r, &req) {
		return
	}
	changed, err := s.store.DeletePriorityRule(r.Context(), req.Column, req.Operator, req.Value)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeRules(w, r, changed)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req gateway.RuleKey
	if !s.decodeJSON(w, r, &req) {
		return
	}
	changed, err := s.store.TogglePriorityRule(r.Context(), req.Column, req.Operator, req.Value, req.Active)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeRules(w, r, changed)
}

// writeRules announces the reprioritized datasets and writes the current rule list.
func (s *Server) writeRules(w http.ResponseWriter, r *http.Request, changed []string) {
	for _, id := range changed {
		mutationsTotal.WithLabelValues(actionReprioritize).Inc()
		s.publish(r.Context(), r, id, actionReprioritize, 0, 0)
	}
	rules, err := s.store.ListPriorityRules(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := gateway.RulesResult{Rules: make([]gateway.PriorityRule, 0, len(rules)), Affected: changed}
	for _, rule := range rules {
		out.Rules = append(out.Rules, toWireRule(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.store.AutocompleteLists(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.AutocompleteLists{Lists: lists})
}

func (s *Server) handleSaveLists(w http.ResponseWriter, r *http.Request) {
	var req gateway.AutocompleteLists
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.store.SaveAutocompleteLists(r.Context(), req.Lists); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toStoreRule(r gateway.PriorityRule) store.PriorityRule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return store.PriorityRule{
		Column:   r.Column,
		Operator: r.Operator,
		Value:    r.Value,
		Priority: r.Priority,
		Reason:   r.Reason,
		Active:   active,
	}
}

func toWireRule(r store.PriorityRule) gateway.PriorityRule {
	active := r.Active
	return gateway.PriorityRule{
		Column:   r.Column,
		Operator: r.Operator,
		Value:    r.Value,
		Priority: r.Priority,
		Reason:   r.Reason,
		Active:   &active,
	}
}
