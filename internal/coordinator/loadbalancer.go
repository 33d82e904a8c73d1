package coordinator

import (
	"sort"
	"sync"
	"sync/atomic"

	"ddbmw/configs"
)

// LoadBalancer picks a read target from the current UP set, either by
// a global round-robin counter over the stable node_id order or by
// fewest in-flight sessions.
type LoadBalancer struct {
	rrCounter uint64

	mu       sync.Mutex
	inFlight map[int]int // node_id -> in-flight read+write sessions
}

func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{inFlight: make(map[int]int)}
}

// Pick selects a target node_id from up (all UP node ids, self
// included) using strategy. up must be non-empty.
func (lb *LoadBalancer) Pick(up []int, strategy string) int {
	sorted := append([]int(nil), up...)
	sort.Ints(sorted)

	switch strategy {
	case configs.LeastLoaded:
		return lb.pickLeastLoaded(sorted)
	default: // configs.RoundRobin
		idx := atomic.AddUint64(&lb.rrCounter, 1) - 1
		return sorted[int(idx)%len(sorted)]
	}
}

// pickLeastLoaded breaks load ties by lower node_id; sorted is
// already ordered so the first minimum wins.
func (lb *LoadBalancer) pickLeastLoaded(sorted []int) int {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	best := sorted[0]
	bestLoad := lb.inFlight[best]
	for _, id := range sorted[1:] {
		if lb.inFlight[id] < bestLoad {
			best = id
			bestLoad = lb.inFlight[id]
		}
	}
	return best
}

// Begin marks one in-flight session starting against nodeID; End marks
// it finishing. ROUND_ROBIN ignores these counts, but they are always
// kept up to date so a strategy switch at runtime sees accurate counts.
func (lb *LoadBalancer) Begin(nodeID int) {
	lb.mu.Lock()
	lb.inFlight[nodeID]++
	lb.mu.Unlock()
}

func (lb *LoadBalancer) End(nodeID int) {
	lb.mu.Lock()
	if lb.inFlight[nodeID] > 0 {
		lb.inFlight[nodeID]--
	}
	lb.mu.Unlock()
}
