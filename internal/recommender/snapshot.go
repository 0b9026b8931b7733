package recommender

import (
	"sort"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

// Entry is one learned Q-value.
type Entry struct {
	State     string       `json:"state"`
	Pillar    karma.Pillar `json:"pillar"`
	Intensity int          `json:"intensity"`
	Value     float64      `json:"value"`
}

// Snapshot is the persisted form of the table.
type Snapshot struct {
	Entries []Entry `json:"entries"`
}

// Snapshot copies the table in a stable order.
func (p *Policy) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := Snapshot{Entries: []Entry{}}
	for s, row := range p.q {
		for a, v := range row {
			snap.Entries = append(snap.Entries, Entry{State: s.Key(), Pillar: a.Pillar, Intensity: a.Intensity, Value: v})
		}
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		ei, ej := snap.Entries[i], snap.Entries[j]
		if ei.State != ej.State {
			return ei.State < ej.State
		}
		if ei.Intensity != ej.Intensity {
			return ei.Intensity < ej.Intensity
		}
		return ei.Pillar < ej.Pillar
	})
	return snap
}

// Restore replaces the table with snap. Entries outside the configured state
// or action space are dropped; the count of dropped entries is returned.
func (p *Policy) Restore(snap Snapshot) int {
	q := make(map[State]map[Action]float64)
	dropped := 0
	for _, e := range snap.Entries {
		s, err := ParseState(e.State)
		a := Action{Pillar: e.Pillar, Intensity: e.Intensity}
		if err != nil || s.Bucket < 0 || s.Bucket > len(p.params.Buckets) || !p.known(a) {
			dropped++
			continue
		}
		if q[s] == nil {
			q[s] = make(map[Action]float64)
		}
		q[s][a] = e.Value
	}
	p.mu.Lock()
	p.q = q
	p.mu.Unlock()
	return dropped
}
