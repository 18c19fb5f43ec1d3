package server

import (
  "net/http"
  "strconv"

  "github.com/go-chi/chi/v5"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/rebalance"
)

func (s *Server) handleRebalanceScan(w http.ResponseWriter, r *http.Request) {
  ops := s.rebalancer.CheckRebalancingNeeded()
  writeJSON(w, http.StatusOK, map[string]any{
    "operations": ops,
    "count": len(ops),
  })
}

func (s *Server) handleRebalanceRequest(w http.ResponseWriter, r *http.Request) {
  var req struct {
    FromChannel string `json:"from_channel"`
    ToChannel string `json:"to_channel"`
    AmountSat uint64 `json:"amount_sat"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if req.FromChannel == "" || req.ToChannel == "" {
    writeError(w, http.StatusBadRequest, "from_channel and to_channel required")
    return
  }

  op, err := s.rebalancer.Request(req.FromChannel, req.ToChannel, req.AmountSat)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusCreated, op)
}

func (s *Server) handleRebalanceOperations(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.rebalancer.Operations())
}

func (s *Server) handleRebalanceGet(w http.ResponseWriter, r *http.Request) {
  op, err := s.rebalancer.GetOperation(chi.URLParam(r, "id"))
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleRebalanceExecute(w http.ResponseWriter, r *http.Request) {
  id := chi.URLParam(r, "id")
  if err := s.rebalancer.ExecuteRebalance(r.Context(), id); err != nil {
    writeDomainError(w, err)
    return
  }
  op, err := s.rebalancer.GetOperation(id)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleRebalanceCancel(w http.ResponseWriter, r *http.Request) {
  if err := s.rebalancer.Cancel(chi.URLParam(r, "id")); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleRebalanceHistory(w http.ResponseWriter, r *http.Request) {
  limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
  items, err := rebalance.FetchHistory(r.Context(), s.db, limit)
  if err != nil {
    writeError(w, http.StatusInternalServerError, err.Error())
    return
  }
  if items == nil {
    items = []rebalance.Operation{}
  }
  writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRebalanceStats(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.rebalancer.GetStats())
}
