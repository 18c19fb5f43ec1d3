package server

import (
  "net/http"
  "strconv"

  "github.com/go-chi/chi/v5"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/payments"
)

func (s *Server) handlePaymentSubmit(w http.ResponseWriter, r *http.Request) {
  var req struct {
    WalletID string `json:"wallet_id"`
    Invoice string `json:"invoice"`
    AmountSat uint64 `json:"amount_sat"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }

  p, err := s.engine.Submit(r.Context(), req.WalletID, req.Invoice, req.AmountSat)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handlePaymentList(w http.ResponseWriter, r *http.Request) {
  if walletID := r.URL.Query().Get("wallet_id"); walletID != "" {
    writeJSON(w, http.StatusOK, s.engine.ListByWallet(walletID))
    return
  }
  writeJSON(w, http.StatusOK, s.engine.List())
}

func (s *Server) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
  p, err := s.engine.Get(chi.URLParam(r, "id"))
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePaymentStatusByHash(w http.ResponseWriter, r *http.Request) {
  p, err := s.engine.StatusByHash(chi.URLParam(r, "hash"))
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]any{
    "payment_id": p.PaymentID,
    "payment_hash": p.PaymentHash,
    "status": p.Status,
    "fee_sat": p.FeeSat,
    "retry_count": p.RetryCount,
  })
}

func (s *Server) handlePaymentCancel(w http.ResponseWriter, r *http.Request) {
  if err := s.engine.Cancel(chi.URLParam(r, "id")); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePaymentMetrics(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
  limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
  items, err := payments.FetchPaymentHistory(r.Context(), s.db, limit)
  if err != nil {
    writeError(w, http.StatusInternalServerError, err.Error())
    return
  }
  if items == nil {
    items = []payments.Payment{}
  }
  writeJSON(w, http.StatusOK, items)
}

func (s *Server) handlePeerList(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.engine.Pool().Peers().List())
}

func (s *Server) handlePeerAdd(w http.ResponseWriter, r *http.Request) {
  var req struct {
    PeerID string `json:"peer_id"`
    Endpoint string `json:"endpoint"`
    Primary bool `json:"primary"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if req.PeerID == "" || req.Endpoint == "" {
    writeError(w, http.StatusBadRequest, "peer_id and endpoint required")
    return
  }

  s.engine.Pool().Peers().Add(req.PeerID, req.Endpoint, req.Primary)
  peer, err := s.engine.Pool().Peers().Get(req.PeerID)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusCreated, peer)
}

func (s *Server) handlePeerRemove(w http.ResponseWriter, r *http.Request) {
  id := chi.URLParam(r, "id")
  if err := s.engine.Pool().Peers().Remove(id); err != nil {
    writeDomainError(w, err)
    return
  }
  s.engine.Pool().Unregister(id)
  writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handlePeerBest(w http.ResponseWriter, r *http.Request) {
  peer, err := s.engine.Pool().Peers().Best()
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, peer)
}

func (s *Server) handlePeerSetPrimary(w http.ResponseWriter, r *http.Request) {
  if err := s.engine.Pool().Peers().SetPrimary(chi.URLParam(r, "id")); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePeerSetOnline(w http.ResponseWriter, r *http.Request) {
  var req struct {
    Online bool `json:"online"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if err := s.engine.Pool().Peers().SetOnline(chi.URLParam(r, "id"), req.Online); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
