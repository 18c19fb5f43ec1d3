package server

import (
  "net/http"
  "strconv"
  "time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
  peersOnline := 0
  for _, p := range s.engine.Pool().Peers().List() {
    if p.IsOnline {
      peersOnline++
    }
  }
  m := s.engine.Metrics()
  writeJSON(w, http.StatusOK, map[string]any{
    "status": "ok",
    "time": time.Now().UTC().Format(time.RFC3339),
    "channels": s.registry.Stats().TotalChannels,
    "payments": m.TotalPayments,
    "failed_payments": m.Failed,
    "peers_online": peersOnline,
    "last_error": s.engine.LastError(),
  })
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
  status, err := s.lnd.GetStatus(r.Context())
  if err != nil {
    writeError(w, http.StatusBadGateway, err.Error())
    return
  }
  writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
  balance, err := s.engine.WalletBalance(r.Context())
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, balance)
}

// handleWalletPayments lists the backend's own payment log, as opposed
// to /api/payments which covers payments submitted through the engine.
func (s *Server) handleWalletPayments(w http.ResponseWriter, r *http.Request) {
  limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
  items, err := s.lnd.ListPayments(r.Context(), limit)
  if err != nil {
    writeError(w, http.StatusBadGateway, err.Error())
    return
  }
  writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
  var req struct {
    AmountSat uint64 `json:"amount_sat"`
    Memo string `json:"memo"`
    ExpirySeconds int64 `json:"expiry_seconds"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if req.AmountSat == 0 {
    writeError(w, http.StatusBadRequest, "amount_sat required")
    return
  }

  invoice, err := s.lnd.CreateInvoice(r.Context(), req.AmountSat, req.Memo, req.ExpirySeconds)
  if err != nil {
    writeError(w, http.StatusBadGateway, err.Error())
    return
  }
  writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) handleDecodeInvoice(w http.ResponseWriter, r *http.Request) {
  var req struct {
    Invoice string `json:"invoice"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if req.Invoice == "" {
    writeError(w, http.StatusBadRequest, "invoice required")
    return
  }

  decoded, err := s.lnd.DecodeInvoice(r.Context(), req.Invoice)
  if err != nil {
    writeError(w, http.StatusBadGateway, err.Error())
    return
  }
  writeJSON(w, http.StatusOK, decoded)
}
