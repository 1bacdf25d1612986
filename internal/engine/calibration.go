// CLAUDE:SUMMARY Calibration controller — per-mode attempt/clear counters and bounded proportional bias toward target rates
package engine

import "sync"

// Mode is the trust classification of a session, fixed at creation.
type Mode string

const (
	ModeVerified     Mode = "verified"
	ModeGuest        Mode = "guest"
	ModeBotSuspected Mode = "bot_suspected"
)

// ValidMode reports whether m is one of the three recognized trust modes.
func ValidMode(m Mode) bool {
	return m == ModeVerified || m == ModeGuest || m == ModeBotSuspected
}

// ModeStats is a snapshot of one mode's aggregate outcome counters.
type ModeStats struct {
	Attempts uint64  `json:"attempts"`
	Clears   uint64  `json:"clears"`
	Rate     float64 `json:"rate"`
	Target   float64 `json:"target"`
}

// ControllerConfig fixes the controller's targets and correction behavior at
// process start. There is no implicit reset.
type ControllerConfig struct {
	// TargetRate is the published first-clear truth rate for verified and
	// guest sessions.
	TargetRate float64
	// BotTargetRate is the independent, stricter target for bot_suspected
	// sessions. Its drift never moves the published rate.
	BotTargetRate float64
	// Gain is the proportional correction factor applied to the gap between
	// target and observed rate.
	Gain float64
	// MaxStep bounds the bias returned by a single BiasFor call.
	MaxStep float64
}

// Controller tracks aggregate outcome statistics per trust mode and nudges
// future quotes toward the configured targets. Counters move only on
// committed turns; quotes alone never touch them.
type Controller struct {
	mu    sync.Mutex
	cfg   ControllerConfig
	stats map[Mode]*modeCounters
}

type modeCounters struct {
	attempts uint64
	clears   uint64
}

// NewController builds a controller with one counter set per trust mode.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg: cfg,
		stats: map[Mode]*modeCounters{
			ModeVerified:     {},
			ModeGuest:        {},
			ModeBotSuspected: {},
		},
	}
}

// RecordOutcome registers a committed turn. Attempts always increment;
// clears only for a first-clear outcome.
func (c *Controller) RecordOutcome(mode Mode, clear bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[mode]
	if !ok {
		return
	}
	s.attempts++
	if clear {
		s.clears++
	}
}

// BiasFor returns the current adjustment for a mode's quotes: a bounded
// proportional step closing the gap between the observed rate and the mode's
// target. Bounded so a burst of one-sided outcomes cannot swing the next
// quote past the configured maximum delta.
func (c *Controller) BiasFor(mode Mode) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[mode]
	if !ok || s.attempts == 0 {
		return 0
	}
	observed := float64(s.clears) / float64(s.attempts)
	step := c.cfg.Gain * (c.targetFor(mode) - observed)
	return clampFloat(step, -c.cfg.MaxStep, c.cfg.MaxStep)
}

// TargetFor returns the mode's calibration target rate.
func (c *Controller) TargetFor(mode Mode) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetFor(mode)
}

func (c *Controller) targetFor(mode Mode) float64 {
	if mode == ModeBotSuspected {
		return c.cfg.BotTargetRate
	}
	return c.cfg.TargetRate
}

// Snapshot returns the current counters for every mode.
func (c *Controller) Snapshot() map[Mode]ModeStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Mode]ModeStats, len(c.stats))
	for mode, s := range c.stats {
		stat := ModeStats{
			Attempts: s.attempts,
			Clears:   s.clears,
			Target:   c.targetFor(mode),
		}
		if s.attempts > 0 {
			stat.Rate = float64(s.clears) / float64(s.attempts)
		}
		out[mode] = stat
	}
	return out
}
