package api

import (
	"net/http"

	"tenant-ledger/pkg/directory"

	"github.com/gorilla/mux"
)

type registerEntryRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

func (s *Server) handleRegisterEntry(w http.ResponseWriter, r *http.Request) {
	var req registerEntryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	entry := directory.Entry{
		Tenant:   vars["tenant"],
		Kind:     directory.Kind(vars["kind"]),
		ID:       req.ID,
		Name:     req.Name,
		ParentID: req.ParentID,
	}
	if err := s.directory.Register(r.Context(), entry); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entries, err := s.directory.List(r.Context(), directory.Kind(vars["kind"]), vars["tenant"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []directory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
