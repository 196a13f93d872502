// Package explorer drives a depth-first exploration of an application:
// state deduplication, backtracking verification, restart recovery and
// menu-driven discovery of top-level functional areas.
package explorer

import "time"

// Config holds the numeric and menu parameters of an exploration.
type Config struct {
	App string // package of the application under test

	MaxDepth int // DFS depth bound

	BacktrackRetries int
	BacktrackDelay   time.Duration

	DeviceRetries    int
	DeviceRetryDelay time.Duration
	SettleDelay      time.Duration

	LaunchWaitSteps int
	MaxRestarts     int
	MaxStepsOutside int
	TraceSize       int

	MenuControl     string   // resource id of the always-present menu control
	MenuContainer   string   // resource id of the surface the control opens
	MenuInclude     []string // glob patterns selecting entries; empty selects all
	MenuExclude     []string
	MenuSearchLimit int

	RevealScroll bool
	MaxScrolls   int

	Seed int64 // random fallback seed

	MaxRuns int // fresh orchestrators a Supervisor may start after interruptions
}

// DefaultConfig returns the default parameters.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         3,
		BacktrackRetries: 10,
		BacktrackDelay:   time.Second,
		DeviceRetries:    3,
		DeviceRetryDelay: 500 * time.Millisecond,
		SettleDelay:      time.Second,
		LaunchWaitSteps:  2,
		MaxRestarts:      5,
		MaxStepsOutside:  5,
		TraceSize:        16,
		MenuSearchLimit:  5,
		RevealScroll:     true,
		MaxScrolls:       2,
		Seed:             1,
		MaxRuns:          3,
	}
}

// normalize replaces non-positive counts with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	positive := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	positive(&c.MaxDepth, d.MaxDepth)
	positive(&c.BacktrackRetries, d.BacktrackRetries)
	positive(&c.LaunchWaitSteps, d.LaunchWaitSteps)
	positive(&c.MaxRestarts, d.MaxRestarts)
	positive(&c.MaxStepsOutside, d.MaxStepsOutside)
	positive(&c.TraceSize, d.TraceSize)
	positive(&c.MenuSearchLimit, d.MenuSearchLimit)
	positive(&c.MaxScrolls, d.MaxScrolls)
	positive(&c.MaxRuns, d.MaxRuns)
	if c.DeviceRetries < 0 {
		c.DeviceRetries = 0
	}
	for _, dur := range []*time.Duration{&c.BacktrackDelay, &c.DeviceRetryDelay, &c.SettleDelay} {
		if *dur < 0 {
			*dur = 0
		}
	}
	return c
}
