package graph

import (
  "errors"
  "testing"
)

func chainGraph() *Graph {
  g := New()
  g.AddNode(Node{NodeID: "A"})
  g.AddNode(Node{NodeID: "B"})
  g.AddNode(Node{NodeID: "C"})
  g.AddChannel(Edge{ChannelID: "AB", Node1: "A", Node2: "B", CapacitySat: 1_000_000, IsEnabled: true, BaseFeeMsat: 1000, FeeRatePpm: 1})
  g.AddChannel(Edge{ChannelID: "BC", Node1: "B", Node2: "C", CapacitySat: 1_000_000, IsEnabled: true, BaseFeeMsat: 1000, FeeRatePpm: 1})
  return g
}

func TestAddNodeAndChannel(t *testing.T) {
  g := chainGraph()

  if got := len(g.AllNodes()); got != 3 {
    t.Fatalf("node count = %d, want 3", got)
  }
  if got := len(g.AllChannels()); got != 2 {
    t.Fatalf("channel count = %d, want 2", got)
  }
  if got := len(g.NodeChannels("B")); got != 2 {
    t.Fatalf("NodeChannels(B) = %d, want 2", got)
  }
  if got := len(g.NodeChannels("A")); got != 1 {
    t.Fatalf("NodeChannels(A) = %d, want 1", got)
  }
}

func TestUpsertLastWriteWins(t *testing.T) {
  g := New()
  g.AddChannel(Edge{ChannelID: "X", Node1: "A", Node2: "B", CapacitySat: 100, IsEnabled: true})
  g.AddChannel(Edge{ChannelID: "X", Node1: "A", Node2: "B", CapacitySat: 200, IsEnabled: false})

  edge, ok := g.GetChannel("X")
  if !ok {
    t.Fatalf("channel X missing after upsert")
  }
  if edge.CapacitySat != 200 || edge.IsEnabled {
    t.Fatalf("upsert did not overwrite: %+v", edge)
  }
  if got := len(g.AllChannels()); got != 1 {
    t.Fatalf("channel count after upsert = %d, want 1", got)
  }
}

func TestFindShortestPathTrivial(t *testing.T) {
  g := New()
  path := g.FindShortestPath("A", "A")
  if len(path) != 1 || path[0] != "A" {
    t.Fatalf("FindShortestPath(A, A) = %v, want [A]", path)
  }
}

func TestFindShortestPathChain(t *testing.T) {
  g := chainGraph()
  path := g.FindShortestPath("A", "C")
  want := []string{"A", "B", "C"}
  if len(path) != len(want) {
    t.Fatalf("path = %v, want %v", path, want)
  }
  for i := range want {
    if path[i] != want[i] {
      t.Fatalf("path = %v, want %v", path, want)
    }
  }
}

func TestFindShortestPathUnreachable(t *testing.T) {
  g := chainGraph()
  g.AddNode(Node{NodeID: "D"})
  if path := g.FindShortestPath("A", "D"); path != nil {
    t.Fatalf("path to isolated node = %v, want nil", path)
  }
}

func TestFindShortestPathSkipsDisabledEdges(t *testing.T) {
  g := chainGraph()
  enabled := false
  if err := g.UpdateChannel("BC", EdgeUpdate{IsEnabled: &enabled}); err != nil {
    t.Fatalf("UpdateChannel failed: %v", err)
  }
  if path := g.FindShortestPath("A", "C"); path != nil {
    t.Fatalf("path over disabled edge = %v, want nil", path)
  }
}

func TestFindShortestPathToleratesDanglingEndpoints(t *testing.T) {
  g := New()
  // Edge inserted before either node has been seen via gossip.
  g.AddChannel(Edge{ChannelID: "XY", Node1: "X", Node2: "Y", IsEnabled: true})
  path := g.FindShortestPath("X", "Y")
  if len(path) != 2 || path[0] != "X" || path[1] != "Y" {
    t.Fatalf("path = %v, want [X Y]", path)
  }
}

func TestUpdateChannelPartial(t *testing.T) {
  g := chainGraph()

  fee := uint32(2500)
  if err := g.UpdateChannel("AB", EdgeUpdate{BaseFeeMsat: &fee}); err != nil {
    t.Fatalf("UpdateChannel failed: %v", err)
  }
  edge, _ := g.GetChannel("AB")
  if edge.BaseFeeMsat != 2500 {
    t.Fatalf("base fee = %d, want 2500", edge.BaseFeeMsat)
  }
  if !edge.IsEnabled || edge.FeeRatePpm != 1 {
    t.Fatalf("untouched fields changed: %+v", edge)
  }
}

func TestUpdateChannelUnknown(t *testing.T) {
  g := New()
  enabled := true
  if err := g.UpdateChannel("missing", EdgeUpdate{IsEnabled: &enabled}); !errors.Is(err, ErrChannelNotFound) {
    t.Fatalf("UpdateChannel err = %v, want ErrChannelNotFound", err)
  }
}

func TestStats(t *testing.T) {
  g := chainGraph()
  enabled := false
  _ = g.UpdateChannel("BC", EdgeUpdate{IsEnabled: &enabled})

  stats := g.Stats()
  if stats.TotalNodes != 3 || stats.TotalChannels != 2 || stats.EnabledChannels != 1 {
    t.Fatalf("unexpected stats: %+v", stats)
  }
  if stats.TotalCapacitySat != 2_000_000 {
    t.Fatalf("total capacity = %d, want 2000000", stats.TotalCapacitySat)
  }
}
