package session

import (
	"hl-delta-neutral/internal/trail"
	"hl-delta-neutral/internal/watcher"

	"github.com/shopspring/decimal"
)

type State string

type Event string

const (
	StateIdle     State = "IDLE"
	StateHedging  State = "HEDGING"
	StateTrailing State = "TRAILING"
	StateSettling State = "SETTLING"
	StateDone     State = "DONE"
	StateAborted  State = "ABORTED"
)

const (
	EventStart    Event = "START"
	EventSettled  Event = "SETTLED"
	EventFilled   Event = "FILLED"
	EventComplete Event = "COMPLETE"
	EventAbort    Event = "ABORT"
	EventReset    Event = "RESET"
)

type Direction = watcher.Direction

const (
	Open  = watcher.Open
	Close = watcher.Close
)

// Session is one open or close run for a single perp.
type Session struct {
	Direction        Direction
	TargetBaseSizeUI decimal.Decimal
	TokenIndex       int
	Coin             string
}

type Result struct {
	Session   Session
	Baseline  decimal.Decimal
	Hedged    decimal.Decimal
	Swapped   decimal.Decimal
	Order     trail.Result
	Anomalies int
	State     State
}
