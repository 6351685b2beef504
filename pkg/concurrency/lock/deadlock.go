package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"dbkernel/internal/logging"
	"dbkernel/pkg/concurrency/transaction"
)

// detector periodically builds the waits-for graph across every lock
// queue and breaks any cycle it finds, aborting the youngest transaction
// on the cycle. Ported from bustub's LockManager::RunDeadlockDetection /
// DFS-based cycle search (spec §4.5, spec §8 boundary scenario 6).
//
// It also carries a second, explicit waits-for graph (edges mu-guarded)
// that AddEdge/RemoveEdge/HasCycle/GetEdgeList operate on directly,
// independent of any live lock queue — the standard bustub test hooks for
// exercising the cycle-detection/victim-selection logic in isolation.
type detector struct {
	m *Manager

	mu    sync.Mutex
	edges map[transaction.TxnID]map[transaction.TxnID]struct{}
}

func newDetector(m *Manager) *detector {
	return &detector{m: m, edges: make(map[transaction.TxnID]map[transaction.TxnID]struct{})}
}

// AddEdge records that t1 waits for t2, for direct graph manipulation in
// tests. A no-op if the edge already exists.
func (d *detector) AddEdge(t1, t2 transaction.TxnID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.edges[t1] == nil {
		d.edges[t1] = make(map[transaction.TxnID]struct{})
	}
	d.edges[t1][t2] = struct{}{}
}

// RemoveEdge deletes the t1-waits-for-t2 edge, if present.
func (d *detector) RemoveEdge(t1, t2 transaction.TxnID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.edges[t1]; ok {
		delete(s, t2)
		if len(s) == 0 {
			delete(d.edges, t1)
		}
	}
}

// GetEdgeList returns every t1-waits-for-t2 edge in the explicit graph,
// sorted for deterministic test assertions.
func (d *detector) GetEdgeList() [][2]transaction.TxnID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][2]transaction.TxnID
	for t1, holders := range d.edges {
		for t2 := range holders {
			out = append(out, [2]transaction.TxnID{t1, t2})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// HasCycle runs the same deterministic DFS cycle search the background
// scanner uses, over the explicit graph, and reports the victim
// transaction if a cycle exists.
func (d *detector) HasCycle() (transaction.TxnID, bool) {
	d.mu.Lock()
	graph := make(map[transaction.TxnID][]transaction.TxnID, len(d.edges))
	for t1, holders := range d.edges {
		list := make([]transaction.TxnID, 0, len(holders))
		for t2 := range holders {
			list = append(list, t2)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		graph[t1] = list
	}
	d.mu.Unlock()
	return findCycleVictim(graph)
}

func (d *detector) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.scanOnce()
			}
		}
	}()
}

// scanOnce builds the current waits-for graph and repeatedly removes
// cycles (a single scan can reveal more than one) until none remain.
func (d *detector) scanOnce() {
	for {
		graph := d.buildGraph()
		victim, found := findCycleVictim(graph)
		if !found {
			return
		}
		txn := d.m.txnByID(victim)
		if txn == nil {
			return
		}
		logging.Get().Warn("lock manager: breaking deadlock", "victim_txn", victim)
		txn.Abort(transaction.Deadlock)
		d.wakeEverythingWaitingOn(victim)
	}
}

// wakeEverythingWaitingOn broadcasts on every queue so a just-aborted
// transaction's waiters re-check state and unblock.
func (d *detector) wakeEverythingWaitingOn(victim transaction.TxnID) {
	for _, q := range d.m.allQueues() {
		q.mu.Lock()
		if q.find(victim) != nil {
			q.removeTxn(victim)
			q.attemptGrants()
		}
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// buildGraph merges waiting-edges from every queue into one adjacency map:
// waiter -> sorted list of distinct transactions it waits on.
func (d *detector) buildGraph() map[transaction.TxnID][]transaction.TxnID {
	graph := make(map[transaction.TxnID]map[transaction.TxnID]struct{})
	for _, q := range d.m.allQueues() {
		for _, edge := range q.waitingEdges() {
			waiter, holder := edge[0], edge[1]
			if graph[waiter] == nil {
				graph[waiter] = make(map[transaction.TxnID]struct{})
			}
			graph[waiter][holder] = struct{}{}
		}
	}

	out := make(map[transaction.TxnID][]transaction.TxnID, len(graph))
	for waiter, holders := range graph {
		list := make([]transaction.TxnID, 0, len(holders))
		for h := range holders {
			list = append(list, h)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[waiter] = list
	}
	return out
}

// findCycleVictim repeatedly runs DFS from the smallest unvisited
// transaction id, exploring neighbors in ascending order (spec §4.5's
// deterministic cycle search), and returns the largest transaction id on
// the first cycle found — the youngest transaction, chosen as the victim
// so older transactions make progress.
func findCycleVictim(graph map[transaction.TxnID][]transaction.TxnID) (transaction.TxnID, bool) {
	nodes := make(map[transaction.TxnID]struct{})
	for waiter, holders := range graph {
		nodes[waiter] = struct{}{}
		for _, h := range holders {
			nodes[h] = struct{}{}
		}
	}
	sorted := make([]transaction.TxnID, 0, len(nodes))
	for n := range nodes {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	visited := make(map[transaction.TxnID]bool)
	for _, start := range sorted {
		if visited[start] {
			continue
		}
		if victim, ok := dfs(graph, start, visited, nil, make(map[transaction.TxnID]int)); ok {
			return victim, true
		}
	}
	return transaction.InvalidTxnID, false
}

func dfs(graph map[transaction.TxnID][]transaction.TxnID, node transaction.TxnID, visited map[transaction.TxnID]bool, stack []transaction.TxnID, onStack map[transaction.TxnID]int) (transaction.TxnID, bool) {
	visited[node] = true
	onStack[node] = len(stack)
	stack = append(stack, node)

	for _, next := range graph[node] {
		if pos, onPath := onStack[next]; onPath {
			cycle := stack[pos:]
			victim := cycle[0]
			for _, id := range cycle {
				if id > victim {
					victim = id
				}
			}
			return victim, true
		}
		if !visited[next] {
			if victim, ok := dfs(graph, next, visited, stack, onStack); ok {
				return victim, true
			}
		}
	}

	delete(onStack, node)
	return transaction.InvalidTxnID, false
}
