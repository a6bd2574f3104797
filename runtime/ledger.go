package runtime

import "github.com/piyushagarwal-55/flowforge/core"

// ledger keeps invocation records in start order. With a positive max, the
// oldest completed records are evicted first; in-flight records are never
// evicted. Callers hold the manager lock.
type ledger struct {
	byID  map[string]*core.Invocation
	order []string
	max   int
}

func newLedger(max int) *ledger {
	return &ledger{
		byID: make(map[string]*core.Invocation),
		max:  max,
	}
}

func (l *ledger) add(inv *core.Invocation) {
	l.byID[inv.ID] = inv
	l.order = append(l.order, inv.ID)
	l.evict()
}

func (l *ledger) evict() {
	if l.max <= 0 {
		return
	}
	for len(l.order) > l.max {
		victim := -1
		for i, id := range l.order {
			if l.byID[id].Completed() {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		delete(l.byID, l.order[victim])
		l.order = append(l.order[:victim], l.order[victim+1:]...)
	}
}

func (l *ledger) get(id string) (*core.Invocation, bool) {
	inv, ok := l.byID[id]
	return inv, ok
}

// list returns copies of the records, filtered by server when serverID is set.
func (l *ledger) list(serverID string) []core.Invocation {
	out := make([]core.Invocation, 0, len(l.order))
	for _, id := range l.order {
		inv := l.byID[id]
		if serverID != "" && inv.ServerID != serverID {
			continue
		}
		out = append(out, copyInvocation(inv))
	}
	return out
}

func (l *ledger) len() int {
	return len(l.order)
}

func (l *ledger) clear() {
	l.byID = make(map[string]*core.Invocation)
	l.order = nil
}

func copyInvocation(inv *core.Invocation) core.Invocation {
	c := *inv
	if inv.CompletedAt != nil {
		t := *inv.CompletedAt
		c.CompletedAt = &t
	}
	if inv.Error != nil {
		e := *inv.Error
		c.Error = &e
	}
	return c
}
