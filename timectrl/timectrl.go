// Package timectrl drives the optimizer's fixed-cadence control loop,
// stepping control time by a fixed tick in real-time or accelerated mode
// and notifying listeners on every step.
package timectrl

import (
	"sync"
	"time"
)

// Mode describes how the TimeController advances the loop.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still
	// stepping by Tick, for scenario replays and tuning sweeps.
	Accelerated
)

// TimeController steps control time by a fixed tick and notifies listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current control time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime forces the control time, for replay and test harnesses.
func (tc *TimeController) SetTime(now time.Time) {
	tc.mu.Lock()
	tc.currentTime = now
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick. Listeners run on
// the controller's goroutine in registration order.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the specified duration in a separate
// goroutine. It returns a channel that is closed when the controller
// finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			if ticker != nil {
				<-ticker.C
			}
			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = simTime
			tc.mu.Unlock()

			for _, fn := range tc.listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
