package server

import (
  "net/http"

  "github.com/go-chi/chi/v5"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/channels"
)

func (s *Server) handleChannelCreate(w http.ResponseWriter, r *http.Request) {
  var req struct {
    PeerID string `json:"peer_id"`
    CapacitySat uint64 `json:"capacity_sat"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if req.PeerID == "" {
    writeError(w, http.StatusBadRequest, "peer_id required")
    return
  }

  id, err := s.registry.Create(req.PeerID, req.CapacitySat)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  ch, err := s.registry.Get(id)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
  if peerID := r.URL.Query().Get("peer_id"); peerID != "" {
    writeJSON(w, http.StatusOK, s.registry.ListByPeer(peerID))
    return
  }
  writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleChannelGet(w http.ResponseWriter, r *http.Request) {
  ch, err := s.registry.Get(chi.URLParam(r, "id"))
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChannelSetState(w http.ResponseWriter, r *http.Request) {
  var req struct {
    State string `json:"state"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }

  state := channels.State(req.State)
  switch state {
  case channels.StatePending, channels.StateOpen, channels.StateClosing, channels.StateClosed, channels.StateError:
  default:
    writeError(w, http.StatusBadRequest, "unknown channel state")
    return
  }

  if err := s.registry.SetState(chi.URLParam(r, "id"), state); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChannelSetBalance(w http.ResponseWriter, r *http.Request) {
  var req struct {
    LocalBalanceSat uint64 `json:"local_balance_sat"`
    RemoteBalanceSat uint64 `json:"remote_balance_sat"`
  }
  if err := readJSON(r, &req); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }

  if err := s.registry.SetBalance(chi.URLParam(r, "id"), req.LocalBalanceSat, req.RemoteBalanceSat); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChannelClose(w http.ResponseWriter, r *http.Request) {
  if err := s.registry.Close(chi.URLParam(r, "id")); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "closing"})
}

func (s *Server) handleChannelRemove(w http.ResponseWriter, r *http.Request) {
  if err := s.registry.Remove(chi.URLParam(r, "id")); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.registry.Stats())
}
