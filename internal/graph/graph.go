package graph

import (
  "errors"
  "fmt"
  "sync"
  "time"
)

var ErrChannelNotFound = errors.New("graph channel not found")

// Node is a network participant learned from gossip. It is unrelated to
// the registry's own channel records.
type Node struct {
  NodeID string `json:"node_id"`
  Alias string `json:"alias,omitempty"`
  Color string `json:"color,omitempty"`
  LastSeen int64 `json:"last_seen"`
  Features []uint32 `json:"features,omitempty"`
  Addresses []string `json:"addresses,omitempty"`
}

// Edge is a channel somewhere in the network. Endpoints may reference
// nodes the graph has not seen yet; gossip delivers them out of order.
type Edge struct {
  ChannelID string `json:"channel_id"`
  Node1 string `json:"node1"`
  Node2 string `json:"node2"`
  CapacitySat uint64 `json:"capacity_sat"`
  IsEnabled bool `json:"is_enabled"`
  BaseFeeMsat uint32 `json:"base_fee_msat"`
  FeeRatePpm uint32 `json:"fee_rate_ppm"`
  LastUpdate int64 `json:"last_update"`
}

type EdgeUpdate struct {
  IsEnabled *bool `json:"is_enabled,omitempty"`
  BaseFeeMsat *uint32 `json:"base_fee_msat,omitempty"`
  FeeRatePpm *uint32 `json:"fee_rate_ppm,omitempty"`
}

type Stats struct {
  TotalNodes int `json:"total_nodes"`
  TotalChannels int `json:"total_channels"`
  EnabledChannels int `json:"enabled_channels"`
  TotalCapacitySat uint64 `json:"total_capacity_sat"`
}

// Graph holds the gossip view of the wider network. Edges keep their
// insertion order so traversal is stable across calls.
type Graph struct {
  mu sync.RWMutex
  nodes map[string]Node
  edges map[string]*Edge
  edgeOrder []string
}

func New() *Graph {
  return &Graph{
    nodes: map[string]Node{},
    edges: map[string]*Edge{},
  }
}

func (g *Graph) AddNode(node Node) {
  g.mu.Lock()
  g.nodes[node.NodeID] = node
  g.mu.Unlock()
}

func (g *Graph) AddChannel(edge Edge) {
  g.mu.Lock()
  if _, ok := g.edges[edge.ChannelID]; !ok {
    g.edgeOrder = append(g.edgeOrder, edge.ChannelID)
  }
  copied := edge
  g.edges[edge.ChannelID] = &copied
  g.mu.Unlock()
}

func (g *Graph) GetNode(nodeID string) (Node, bool) {
  g.mu.RLock()
  defer g.mu.RUnlock()
  node, ok := g.nodes[nodeID]
  return node, ok
}

func (g *Graph) GetChannel(channelID string) (Edge, bool) {
  g.mu.RLock()
  defer g.mu.RUnlock()
  edge, ok := g.edges[channelID]
  if !ok {
    return Edge{}, false
  }
  return *edge, true
}

func (g *Graph) AllNodes() []Node {
  g.mu.RLock()
  defer g.mu.RUnlock()
  out := make([]Node, 0, len(g.nodes))
  for _, node := range g.nodes {
    out = append(out, node)
  }
  return out
}

func (g *Graph) AllChannels() []Edge {
  g.mu.RLock()
  defer g.mu.RUnlock()
  out := make([]Edge, 0, len(g.edgeOrder))
  for _, id := range g.edgeOrder {
    out = append(out, *g.edges[id])
  }
  return out
}

func (g *Graph) NodeChannels(nodeID string) []Edge {
  g.mu.RLock()
  defer g.mu.RUnlock()
  return g.nodeChannelsLocked(nodeID)
}

func (g *Graph) nodeChannelsLocked(nodeID string) []Edge {
  out := []Edge{}
  for _, id := range g.edgeOrder {
    edge := g.edges[id]
    if edge.Node1 == nodeID || edge.Node2 == nodeID {
      out = append(out, *edge)
    }
  }
  return out
}

func (g *Graph) EnabledChannels() []Edge {
  g.mu.RLock()
  defer g.mu.RUnlock()
  out := []Edge{}
  for _, id := range g.edgeOrder {
    if g.edges[id].IsEnabled {
      out = append(out, *g.edges[id])
    }
  }
  return out
}

func (g *Graph) UpdateChannel(channelID string, update EdgeUpdate) error {
  g.mu.Lock()
  defer g.mu.Unlock()
  edge, ok := g.edges[channelID]
  if !ok {
    return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
  }
  if update.IsEnabled != nil {
    edge.IsEnabled = *update.IsEnabled
  }
  if update.BaseFeeMsat != nil {
    edge.BaseFeeMsat = *update.BaseFeeMsat
  }
  if update.FeeRatePpm != nil {
    edge.FeeRatePpm = *update.FeeRatePpm
  }
  edge.LastUpdate = time.Now().Unix()
  return nil
}

func (g *Graph) Stats() Stats {
  g.mu.RLock()
  defer g.mu.RUnlock()
  stats := Stats{
    TotalNodes: len(g.nodes),
    TotalChannels: len(g.edges),
  }
  for _, edge := range g.edges {
    stats.TotalCapacitySat += edge.CapacitySat
    if edge.IsEnabled {
      stats.EnabledChannels++
    }
  }
  return stats
}
