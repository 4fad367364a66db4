package api

import (
	"net/http"
	"strings"
	"time"

	"tenant-ledger/pkg/ledger"

	"github.com/gorilla/mux"
)

// reasonRequest is the body of reject and void.
type reasonRequest struct {
	Reason string `json:"reason"`
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateTransactionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Actor = actor(r)

	tx, err := s.ledger.CreateTransaction(r.Context(), mux.Vars(r)["tenant"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// handleListTransactions supports ?account_id=, ?state=a,b and ?posted_before=RFC3339.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, err := s.ledger.ListTransactions(r.Context(), mux.Vars(r)["tenant"], filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func parseFilter(r *http.Request) (ledger.TransactionFilter, error) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{AccountID: q.Get("account_id")}

	if v := q.Get("state"); v != "" {
		for _, name := range strings.Split(v, ",") {
			state, err := ledger.ParseState(strings.TrimSpace(name))
			if err != nil {
				return filter, err
			}
			filter.States = append(filter.States, state)
		}
	}
	if v := q.Get("posted_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &ledger.ValidationError{Field: "posted_before", Err: err}
		}
		filter.PostedBefore = t
	}
	return filter, nil
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tx, err := s.ledger.GetTransaction(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var patch ledger.TransactionPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	tx, err := s.ledger.UpdateDetails(r.Context(), vars["tenant"], vars["id"], patch, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.Delete(r.Context(), vars["tenant"], vars["id"], actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, r)(s.ledger.SubmitForApproval(r.Context(), vars["tenant"], vars["id"], actor(r)))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, r)(s.ledger.Approve(r.Context(), vars["tenant"], vars["id"], actor(r)))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	s.respond(w, r)(s.ledger.Reject(r.Context(), vars["tenant"], vars["id"], actor(r), req.Reason))
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, r)(s.ledger.Post(r.Context(), vars["tenant"], vars["id"], actor(r)))
}

func (s *Server) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	s.respond(w, r)(s.ledger.Void(r.Context(), vars["tenant"], vars["id"], actor(r), req.Reason))
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var ref ledger.AttachmentRef
	if err := decode(r, &ref); err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	att, err := s.ledger.Attach(r.Context(), vars["tenant"], vars["id"], ref, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ledger.Detach(r.Context(), vars["tenant"], vars["id"], vars["attachment"], actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransfer creates a transfer and posts it unless it needs approval.
// When posting fails the stored draft is returned inside the error body.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req ledger.TransferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Actor = actor(r)

	tx, err := s.transfers.Transfer(r.Context(), mux.Vars(r)["tenant"], req)
	if err != nil {
		s.writeErrorWith(w, r, err, tx)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handlePostTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.respond(w, r)(s.transfers.Post(r.Context(), vars["tenant"], vars["id"], actor(r)))
}

// respond writes the outcome of a state transition.
func (s *Server) respond(w http.ResponseWriter, r *http.Request) func(*ledger.Transaction, error) {
	return func(tx *ledger.Transaction, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}
