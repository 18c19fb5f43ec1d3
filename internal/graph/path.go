package graph

import (
  "errors"
  "fmt"
)

// ErrNoRoute is returned when no enabled path connects two nodes.
var ErrNoRoute = errors.New("no route found")

// PathFinder picks a route between two nodes. The graph ships with a
// breadth-first finder; fee-aware strategies can be swapped in without
// touching the storage.
type PathFinder interface {
  FindPath(g *Graph, from, to string) []string
}

// Route is the error-returning form of FindShortestPath.
func (g *Graph) Route(from, to string) ([]string, error) {
  path := g.FindShortestPath(from, to)
  if path == nil {
    return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, from, to)
  }
  return path, nil
}

type BFSPathFinder struct{}

func (BFSPathFinder) FindPath(g *Graph, from, to string) []string {
  return g.FindShortestPath(from, to)
}

// FindShortestPath runs an unweighted breadth-first search over enabled
// edges, treating every channel as undirected. Fees and per-edge capacity
// are deliberately ignored; ties fall to edge insertion order. Returns nil
// when the destination is unreachable.
func (g *Graph) FindShortestPath(from, to string) []string {
  if from == to {
    return []string{from}
  }

  g.mu.RLock()
  defer g.mu.RUnlock()

  queue := []string{from}
  visited := map[string]bool{from: true}
  parent := map[string]string{}

  for len(queue) > 0 {
    current := queue[0]
    queue = queue[1:]

    if current == to {
      path := []string{}
      for node := to; ; {
        path = append(path, node)
        prev, ok := parent[node]
        if !ok {
          break
        }
        node = prev
      }
      reverse(path)
      return path
    }

    for _, edge := range g.nodeChannelsLocked(current) {
      if !edge.IsEnabled {
        continue
      }
      next := edge.Node2
      if edge.Node2 == current {
        next = edge.Node1
      }
      if visited[next] {
        continue
      }
      visited[next] = true
      parent[next] = current
      queue = append(queue, next)
    }
  }

  return nil
}

func reverse(nodes []string) {
  for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
    nodes[i], nodes[j] = nodes[j], nodes[i]
  }
}
