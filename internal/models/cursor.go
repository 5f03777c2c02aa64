package models

import "time"

// ProviderCursor is the per-provider polling state. It is owned by the
// scheduler and advanced only after a successful pull.
type ProviderCursor struct {
	Service            string        `json:"service"`
	ConnectionID       string        `json:"connection_id"`
	LastSuccessfulRun  time.Time     `json:"last_successful_run"`
	LastSeenIdentifier string        `json:"last_seen_identifier,omitempty"`
	NextRun            time.Time     `json:"next_run"`
	Interval           time.Duration `json:"interval"`
}

// AdvanceNextRun moves NextRun forward by whole intervals until it is
// strictly after now. A cursor that fell behind several ticks catches up
// without drifting off its original schedule.
func (c *ProviderCursor) AdvanceNextRun(now time.Time) {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.NextRun.IsZero() {
		c.NextRun = now.Add(c.Interval)
		return
	}
	for !c.NextRun.After(now) {
		c.NextRun = c.NextRun.Add(c.Interval)
	}
}
