package server

import (
  "net/http"

  "github.com/go-chi/chi/v5"

  "github.com/MWANGAZA-LAB/SatsConnect/internal/graph"
)

func (s *Server) handleNetworkUpsertNode(w http.ResponseWriter, r *http.Request) {
  var node graph.Node
  if err := readJSON(r, &node); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if node.NodeID == "" {
    writeError(w, http.StatusBadRequest, "node_id required")
    return
  }
  s.graph.AddNode(node)
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworkNodes(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.graph.AllNodes())
}

func (s *Server) handleNetworkNodeGet(w http.ResponseWriter, r *http.Request) {
  node, ok := s.graph.GetNode(chi.URLParam(r, "id"))
  if !ok {
    writeError(w, http.StatusNotFound, "node not found")
    return
  }
  writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleNetworkNodeChannels(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.graph.NodeChannels(chi.URLParam(r, "id")))
}

func (s *Server) handleNetworkUpsertChannel(w http.ResponseWriter, r *http.Request) {
  var edge graph.Edge
  if err := readJSON(r, &edge); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if edge.ChannelID == "" || edge.Node1 == "" || edge.Node2 == "" {
    writeError(w, http.StatusBadRequest, "channel_id, node1 and node2 required")
    return
  }
  s.graph.AddChannel(edge)
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworkChannels(w http.ResponseWriter, r *http.Request) {
  if r.URL.Query().Get("enabled") == "true" {
    writeJSON(w, http.StatusOK, s.graph.EnabledChannels())
    return
  }
  writeJSON(w, http.StatusOK, s.graph.AllChannels())
}

func (s *Server) handleNetworkUpdateChannel(w http.ResponseWriter, r *http.Request) {
  var update graph.EdgeUpdate
  if err := readJSON(r, &update); err != nil {
    writeError(w, http.StatusBadRequest, "invalid request body")
    return
  }
  if err := s.graph.UpdateChannel(chi.URLParam(r, "id"), update); err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNetworkRoute(w http.ResponseWriter, r *http.Request) {
  from := r.URL.Query().Get("from")
  to := r.URL.Query().Get("to")
  if from == "" || to == "" {
    writeError(w, http.StatusBadRequest, "from and to required")
    return
  }

  path, err := s.graph.Route(from, to)
  if err != nil {
    writeDomainError(w, err)
    return
  }
  writeJSON(w, http.StatusOK, map[string]any{
    "path": path,
    "hops": len(path) - 1,
  })
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
  writeJSON(w, http.StatusOK, s.graph.Stats())
}
