package workflow

import "sort"

// CoAllocation is a group of workflow nodes that must execute at the
// same time, formed by collapsing every SyncDependency-connected
// component into one unit. A node with no SyncDependency edges forms
// its own singleton group.
type CoAllocation struct {
	ID                 string
	Members            []string
	RepresentativeNode string
	SyncDeps           []*SyncDependency

	OutgoingDeps []*CoAllocationDependency
	IncomingDeps []*CoAllocationDependency

	RankUpward float64

	discovered bool
	processed  bool
}

// CoAllocationDependency is a DataDependency edge that crosses between
// two different CoAllocation groups - the overlay graph the scheduler
// actually walks.
type CoAllocationDependency struct {
	ID             string
	SourceGroup    string
	TargetGroup    string
	DataDependency *DataDependency
}

// disjointSet is a minimal union-find over integer indices. The
// original uses the union_find crate for this; no widely-used Go
// union-find library appeared anywhere in the corpus, and the
// structure is small and self-contained enough that pulling in an
// unfamiliar dependency for it would add more risk than it removes, so
// it is implemented directly here.
type disjointSet struct {
	parent []int
	size   []int
}

func newDisjointSet(n int) *disjointSet {
	parent := make([]int, n)
	size := make([]int, n)
	for i := range parent {
		parent[i] = i
		size[i] = 1
	}
	return &disjointSet{parent: parent, size: size}
}

func (d *disjointSet) find(i int) int {
	for d.parent[i] != i {
		d.parent[i] = d.parent[d.parent[i]]
		i = d.parent[i]
	}
	return i
}

func (d *disjointSet) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.size[ra] < d.size[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
}

// BuildCoAllocationDAG groups w's nodes into CoAllocations via every
// SyncDependency edge, then builds the CoAllocationDependency overlay
// from every DataDependency that crosses two different groups, and
// finally computes entry/exit groups and the upward rank ordering used
// by Scheduler.Schedule.
func BuildCoAllocationDAG(w *Workflow) {
	nodeIDs := make([]string, 0, len(w.Nodes))
	for id := range w.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	index := make(map[string]int, len(nodeIDs))
	for i, id := range nodeIDs {
		index[id] = i
	}

	dsu := newDisjointSet(len(nodeIDs))
	for _, dep := range w.SyncDeps {
		si, sok := index[dep.Source]
		ti, tok := index[dep.Target]
		if sok && tok {
			dsu.union(si, ti)
		}
	}

	w.CoAllocations = make(map[string]*CoAllocation)
	groupOf := make(map[string]string, len(nodeIDs))

	for _, id := range nodeIDs {
		repIndex := dsu.find(index[id])
		repID := nodeIDs[repIndex]
		groupOf[id] = repID

		group, ok := w.CoAllocations[repID]
		if !ok {
			group = &CoAllocation{ID: repID, RepresentativeNode: repID}
			w.CoAllocations[repID] = group
		}
		group.Members = append(group.Members, id)
		w.Nodes[id].coAllocationID = repID
	}

	for _, group := range w.CoAllocations {
		sort.Strings(group.Members)
	}

	for _, dep := range w.SyncDeps {
		if group, ok := w.CoAllocations[groupOf[dep.Source]]; ok {
			group.SyncDeps = append(group.SyncDeps, dep)
		}
	}

	w.CoAllocationDeps = make(map[string]*CoAllocationDependency)
	for _, dep := range w.DataDeps {
		sourceGroup, sok := groupOf[dep.Source]
		targetGroup, tok := groupOf[dep.Target]
		if !sok || !tok || sourceGroup == targetGroup {
			continue
		}

		coDep := &CoAllocationDependency{ID: dep.ID, SourceGroup: sourceGroup, TargetGroup: targetGroup, DataDependency: dep}
		w.CoAllocationDeps[dep.ID] = coDep
		w.CoAllocations[sourceGroup].OutgoingDeps = append(w.CoAllocations[sourceGroup].OutgoingDeps, coDep)
		w.CoAllocations[targetGroup].IncomingDeps = append(w.CoAllocations[targetGroup].IncomingDeps, coDep)
	}

	w.EntryGroups = nil
	w.ExitGroups = nil
	for _, group := range w.CoAllocations {
		if len(group.IncomingDeps) == 0 {
			w.EntryGroups = append(w.EntryGroups, group.ID)
		}
		if len(group.OutgoingDeps) == 0 {
			w.ExitGroups = append(w.ExitGroups, group.ID)
		}
	}
	sort.Strings(w.EntryGroups)
	sort.Strings(w.ExitGroups)
}

// UpwardRankOrder computes rank_upward for every CoAllocation (the
// length, in node-duration units, of the longest remaining path to an
// exit group) via a worklist that only finalizes a group once every
// successor has been finalized, then returns group ids sorted with the
// largest rank first - the order Scheduler.Schedule walks groups in.
//
// nodeDuration supplies the scheduling weight of a group (its longest
// member's task duration); transferTime supplies the added latency a
// CoAllocationDependency's data transfer contributes when the
// dependency crosses an already-ranked successor.
func (w *Workflow) UpwardRankOrder(nodeDuration func(*CoAllocation) float64, transferTime func(*DataDependency) float64) []string {
	for _, g := range w.CoAllocations {
		g.discovered = false
		g.processed = false
	}

	var queue []string
	for _, id := range w.EntryGroups {
		w.CoAllocations[id].discovered = true
		queue = append(queue, id)
	}

	var finished []string
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		group := w.CoAllocations[id]
		if group.processed {
			queue = queue[:len(queue)-1]
			continue
		}

		rank := nodeDuration(group)
		readyToFinish := true

		for _, dep := range group.OutgoingDeps {
			target := w.CoAllocations[dep.TargetGroup]
			if !target.processed {
				readyToFinish = false
				if !target.discovered {
					target.discovered = true
					queue = append(queue, dep.TargetGroup)
				}
				continue
			}
			candidate := nodeDuration(group) + transferTime(dep.DataDependency) + target.RankUpward
			if candidate > rank {
				rank = candidate
			}
		}

		if readyToFinish {
			group.RankUpward = rank
			group.processed = true
			queue = queue[:len(queue)-1]
			finished = append(finished, id)
		}
	}

	sort.SliceStable(finished, func(i, j int) bool {
		return w.CoAllocations[finished[i]].RankUpward > w.CoAllocations[finished[j]].RankUpward
	})
	return finished
}
