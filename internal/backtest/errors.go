// Package backtest is an event-driven portfolio simulator: it resolves a
// universe, loads a price panel, drives a strategy through a rebalance
// schedule and produces performance analytics with trade-level bookkeeping.
package backtest

import (
	"fmt"
	"time"
)

// Error is a fatal run failure: configuration, schedule, or data
// precondition violated. Date and Symbol are set when the failure is tied to
// a point in the simulation.
type Error struct {
	Reason string
	Date   time.Time
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	msg := "backtest: " + e.Reason
	if !e.Date.IsZero() {
		msg += " at " + e.Date.Format("2006-01-02")
	}
	if e.Symbol != "" {
		msg += " (" + e.Symbol + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func failf(err error, format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Err: err}
}

// StrategyError means the strategy cannot operate given the supplied
// context. The engine surfaces it as a run failure.
type StrategyError struct {
	Strategy string
	Reason   string
	Err      error
}

func (e *StrategyError) Error() string {
	msg := "strategy " + e.Strategy + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StrategyError) Unwrap() error { return e.Err }
