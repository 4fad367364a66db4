package api

import (
	"net/http"
	"time"

	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/money"

	"github.com/gorilla/mux"
)

type balanceResponse struct {
	AccountID string       `json:"account_id"`
	Balance   money.Amount `json:"balance"`
	AsOf      *time.Time   `json:"as_of,omitempty"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	acc, err := s.ledger.Accounts().CreateAccount(r.Context(), mux.Vars(r)["tenant"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Accounts().ListAccounts(r.Context(), mux.Vars(r)["tenant"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*ledger.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	acc, err := s.ledger.Accounts().GetAccount(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	acc, err := s.ledger.Accounts().Deactivate(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	acc, err := s.ledger.Accounts().Reactivate(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := s.ledger.Accounts().Balance(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: vars["id"], Balance: balance})
}

// handleProjection replays posted transactions up to ?as_of (RFC 3339, default now).
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, &ledger.ValidationError{Field: "as_of", Err: err})
			return
		}
		asOf = t
	}

	balance, err := s.ledger.ProjectBalance(r.Context(), vars["tenant"], vars["id"], asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: vars["id"], Balance: balance, AsOf: &asOf})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	drift, err := s.ledger.VerifyBalance(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drift": drift,
		"ok":    drift.OK(),
	})
}
