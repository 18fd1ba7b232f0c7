// Package topology models the physical network graph an AcI's link
// reservations book capacity against: routers, links, and the
// K-shortest-path cache between grid access points.
package topology

import (
	"container/list"

	"github.com/rs/zerolog"
)

// kShortestPaths bounds how many distinct paths are cached (and
// therefore available for bottleneck bandwidth booking) between any
// two grid access points.
const kShortestPaths = 10

// Router is a node in the network graph. A grid access point is a
// router directly attached to a compute resource, making it a valid
// path endpoint.
type Router struct {
	ID               string
	IsGridAccessPoint bool
}

// Link is a physical, directed network link with a fixed bandwidth
// capacity.
type Link struct {
	ID       string
	Source   string
	Target   string
	Capacity int64
}

// Path is an ordered sequence of link ids connecting two routers.
type Path struct {
	Links []string
}

// Topology is the graph of routers and links plus the precomputed
// K-shortest-path cache between every pair of grid access points.
type Topology struct {
	Routers map[string]*Router
	Links   map[string]*Link

	// adjacency maps a router id to the ids of its outgoing links.
	adjacency map[string][]string

	pathCache map[[2]string][]Path

	maxBandwidthAllPaths int64

	Log zerolog.Logger
}

// New builds a topology from a flat link list, deriving routers (and
// which ones are grid access points) from the accessPoints set.
func New(links []Link, accessPoints []string, log zerolog.Logger) *Topology {
	t := &Topology{
		Routers:   make(map[string]*Router),
		Links:     make(map[string]*Link),
		adjacency: make(map[string][]string),
		pathCache: make(map[[2]string][]Path),
		Log:       log.With().Str("component", "topology").Logger(),
	}

	access := make(map[string]struct{}, len(accessPoints))
	for _, id := range accessPoints {
		access[id] = struct{}{}
	}

	for i := range links {
		l := links[i]
		t.Links[l.ID] = &l
		t.adjacency[l.Source] = append(t.adjacency[l.Source], l.ID)

		if _, ok := t.Routers[l.Source]; !ok {
			_, isAccess := access[l.Source]
			t.Routers[l.Source] = &Router{ID: l.Source, IsGridAccessPoint: isAccess}
		}
		if _, ok := t.Routers[l.Target]; !ok {
			_, isAccess := access[l.Target]
			t.Routers[l.Target] = &Router{ID: l.Target, IsGridAccessPoint: isAccess}
		}
	}
	for id := range access {
		if _, ok := t.Routers[id]; !ok {
			t.Routers[id] = &Router{ID: id, IsGridAccessPoint: true}
		}
	}

	t.calcAllPaths()
	return t
}

// MaxBandwidthAllPaths is the highest single-path bottleneck bandwidth
// observed across every cached path, used as the LinkStrategy's
// reported nominal capacity.
func (t *Topology) MaxBandwidthAllPaths() int64 {
	if t.maxBandwidthAllPaths < 0 {
		return 0
	}
	return t.maxBandwidthAllPaths
}

// Paths returns the cached K-shortest paths between source and target,
// or nil if none were found (no connectivity, or either one is not a
// grid access point).
func (t *Topology) Paths(source, target string) []Path {
	return t.pathCache[[2]string{source, target}]
}

// PathBottleneck returns the minimum link capacity along path, the
// maximum throughput it can carry at once.
func (t *Topology) PathBottleneck(p Path) int64 {
	var bottleneck int64 = -1
	for _, linkID := range p.Links {
		link, ok := t.Links[linkID]
		if !ok {
			return 0
		}
		if bottleneck < 0 || link.Capacity < bottleneck {
			bottleneck = link.Capacity
		}
	}
	if bottleneck < 0 {
		return 0
	}
	return bottleneck
}

func (t *Topology) calcAllPaths() {
	t.maxBandwidthAllPaths = -1

	for sourceID, source := range t.Routers {
		if !source.IsGridAccessPoint {
			continue
		}
		for targetID, target := range t.Routers {
			if !target.IsGridAccessPoint || sourceID == targetID {
				continue
			}
			paths := t.kShortestPathsBFS(sourceID, targetID)
			if len(paths) == 0 {
				t.Log.Debug().Str("source", sourceID).Str("target", targetID).Msg("no path found")
				continue
			}
			t.pathCache[[2]string{sourceID, targetID}] = paths

			for _, p := range paths {
				if b := t.PathBottleneck(p); b > t.maxBandwidthAllPaths {
					t.maxBandwidthAllPaths = b
				}
			}
		}
	}
}

// kShortestPathsBFS enumerates up to kShortestPaths distinct loop-free
// paths from source to target via breadth-first search over the link
// adjacency graph, matching the original's queue-of-partial-paths walk.
func (t *Topology) kShortestPathsBFS(source, target string) []Path {
	var found []Path

	queue := list.New()
	for _, linkID := range t.adjacency[source] {
		queue.PushBack(Path{Links: []string{linkID}})
	}

	for queue.Len() > 0 {
		front := queue.Front()
		queue.Remove(front)
		current := front.Value.(Path)

		lastLinkID := current.Links[len(current.Links)-1]
		lastLink, ok := t.Links[lastLinkID]
		if !ok {
			continue
		}

		if lastLink.Target == target {
			found = append(found, current)
			if len(found) >= kShortestPaths {
				break
			}
			continue
		}

		for _, outgoingID := range t.adjacency[lastLink.Target] {
			outgoing, ok := t.Links[outgoingID]
			if !ok {
				continue
			}

			loop := false
			for _, oldID := range current.Links {
				old := t.Links[oldID]
				if old != nil && old.Source == outgoing.Target {
					loop = true
					break
				}
			}
			if loop {
				continue
			}

			next := make([]string, len(current.Links), len(current.Links)+1)
			copy(next, current.Links)
			next = append(next, outgoingID)
			queue.PushBack(Path{Links: next})
		}
	}

	return found
}
