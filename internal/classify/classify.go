// Package classify turns raw probe outcomes into persisted statuses using a
// two-strike confirmation window: the first hard failure of a target is
// recorded as a warning, the second consecutive one as critical. Degraded
// results pass through as warnings without touching the window.
package classify

import "github.com/gnmradar/gnm/internal/model"

// Classifier tracks consecutive hard-failure streaks per target. It is owned
// by a single goroutine and is deliberately unsynchronized.
type Classifier struct {
	streaks map[string]int
}

// New creates an empty Classifier.
func New() *Classifier {
	return &Classifier{streaks: make(map[string]int)}
}

// Apply updates the streak for targetID from the probe result and returns
// the status to persist.
//
// An Immediate result (an already-expired certificate) persists as critical
// on the first observation; the streak still advances so a subsequent
// ordinary failure stays critical.
func (c *Classifier) Apply(targetID string, result model.CheckResult) model.Status {
	switch result.Status {
	case model.StatusCrit:
		c.streaks[targetID]++
		if result.Immediate {
			return model.StatusCrit
		}
		if c.streaks[targetID] == 1 {
			return model.StatusWarn
		}
		return model.StatusCrit
	case model.StatusWarn:
		// Degraded is not a strike and does not forgive one.
		return model.StatusWarn
	default:
		c.streaks[targetID] = 0
		return model.StatusOK
	}
}

// Streak returns the current consecutive hard-failure count for targetID.
func (c *Classifier) Streak(targetID string) int {
	return c.streaks[targetID]
}

// Forget drops state for targets no longer in the catalog.
func (c *Classifier) Forget(active map[string]struct{}) {
	for id := range c.streaks {
		if _, ok := active[id]; !ok {
			delete(c.streaks, id)
		}
	}
}
