package routing

import (
	"container/heap"
	"sync"

	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"
)

// Table stores the most recent LinkState per source and derives, for every
// known destination, the direct peer to forward to.
//
// Writes are serialized by mu; readers take mu for reading, so
// GetForwardInterface never observes a torn graph while a concurrent Update
// is recomputing it.
type Table struct {
	self types.PeerID

	mu       sync.RWMutex
	states   map[types.PeerID]wire.LinkState
	nextHop  map[types.PeerID]types.PeerID
}

// New creates a Table rooted at self.
func New(self types.PeerID) *Table {
	return &Table{
		self:    self,
		states:  make(map[types.PeerID]wire.LinkState),
		nextHop: make(map[types.PeerID]types.PeerID),
	}
}

// Update installs ls if it is newer than the stored entry for its source (or
// no entry exists), then recomputes next hops eagerly.
func (t *Table) Update(ls wire.LinkState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.states[ls.Source]
	if ok && ls.Timestamp <= existing.Timestamp {
		return
	}
	t.states[ls.Source] = ls
	t.recomputeLocked()
}

// ForceAdd seeds nextHop(dest) = via before any LinkState names dest,
// used at direct-peer discovery time.
func (t *Table) ForceAdd(dest, via types.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nextHop[dest]; ok {
		return
	}
	t.nextHop[dest] = via
}

// GetSelfLinkState returns the local peer's own LinkState, if one has been
// installed via Update.
func (t *Table) GetSelfLinkState() (wire.LinkState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ls, ok := t.states[t.self]
	return ls, ok
}

// GetForwardInterface returns the next hop toward dest, or
// (types.NilPeerID, false) if no route is known.
func (t *Table) GetForwardInterface(dest types.PeerID) (types.PeerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hop, ok := t.nextHop[dest]
	return hop, ok
}

// RouteCount reports how many destinations currently have a known next hop,
// for the Router's Stats() snapshot.
func (t *Table) RouteCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nextHop)
}

// dijkstraItem is one entry in the shortest-path priority queue.
type dijkstraItem struct {
	node types.PeerID
	dist uint64
}

type priorityQueue []dijkstraItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].node.Less(pq[j].node)
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(dijkstraItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// recomputeLocked runs Dijkstra over the graph induced by every stored
// LinkState, rooted at self, and rewrites nextHop. Must be called with mu
// held for writing.
func (t *Table) recomputeLocked() {
	dist := map[types.PeerID]uint64{t.self: 0}
	firstHop := map[types.PeerID]types.PeerID{}
	visited := map[types.PeerID]bool{}

	pq := &priorityQueue{{node: t.self, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(dijkstraItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		ls, ok := t.states[cur.node]
		if !ok {
			continue
		}
		for i, neighbor := range ls.Interfaces {
			cost := ls.Costs[i]
			if cost == wire.CostDown {
				continue
			}
			nd := cur.dist + uint64(cost)
			existing, known := dist[neighbor]
			if !known || nd < existing || (nd == existing && tieBreak(firstHop[neighbor], firstHop[cur.node], cur.node, neighbor, t.self)) {
				dist[neighbor] = nd
				if cur.node == t.self {
					firstHop[neighbor] = neighbor
				} else {
					firstHop[neighbor] = firstHop[cur.node]
				}
				heap.Push(pq, dijkstraItem{node: neighbor, dist: nd})
			}
		}
	}

	next := make(map[types.PeerID]types.PeerID, len(firstHop))
	for dest, hop := range firstHop {
		next[dest] = hop
	}
	// Direct links always resolve to themselves regardless of any longer
	// path a stale LinkState might otherwise imply.
	if ls, ok := t.states[t.self]; ok {
		for i, neighbor := range ls.Interfaces {
			if ls.Costs[i] != wire.CostDown {
				next[neighbor] = neighbor
			}
		}
	}
	// Preserve any ForceAdd seed that Dijkstra did not overwrite with a real
	// LinkState-derived path.
	for dest, hop := range t.nextHop {
		if _, ok := next[dest]; !ok {
			next[dest] = hop
		}
	}
	t.nextHop = next
}

// tieBreak reports whether the candidate first hop should replace the
// incumbent when both reach neighbor at equal distance: ties are broken by
// lower PeerId, applied to the resulting next-hop peer id.
func tieBreak(incumbent, candidateFirstHop, curNode, neighbor, self types.PeerID) bool {
	candidate := candidateFirstHop
	if curNode == self {
		candidate = neighbor
	}
	if incumbent.IsNil() {
		return true
	}
	return candidate.Less(incumbent)
}
