package gateway

import (
	"runtime"
	"sort"
)

// SubscriberStats is the queue view of one subscriber.
type SubscriberStats struct {
	Name     string         `json:"name"`
	Policy   OverflowPolicy `json:"policy"`
	Queued   int            `json:"queued"`
	Capacity int            `json:"capacity"`
	Drops    int64          `json:"drops"`
}

// HubStats summarizes subscriber backlog and process load.
type HubStats struct {
	Subscribers []SubscriberStats `json:"subscribers"`
	MaxQueued   int               `json:"max_queued"`
	TotalDrops  int64             `json:"total_drops"`
	Goroutines  int               `json:"goroutines"`
	HeapAllocMB float64           `json:"heap_alloc_mb"`
}

// Stats snapshots every subscriber queue, sorted by name.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	subs := make([]SubscriberStats, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, SubscriberStats{
			Name:     sub.name,
			Policy:   sub.policy,
			Queued:   len(sub.queue),
			Capacity: cap(sub.queue),
			Drops:    sub.Drops(),
		})
	}
	h.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })

	st := HubStats{Subscribers: subs, Goroutines: runtime.NumGoroutine()}
	for _, s := range subs {
		st.MaxQueued = max(st.MaxQueued, s.Queued)
		st.TotalDrops += s.Drops
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	st.HeapAllocMB = float64(mem.HeapAlloc) / 1024 / 1024
	return st
}
