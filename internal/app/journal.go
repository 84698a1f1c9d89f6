package app

import (
	"strconv"
	"strings"
	"time"

	"hl-delta-neutral/internal/hedge"
	"hl-delta-neutral/internal/session"
	"hl-delta-neutral/internal/timescale"
	"hl-delta-neutral/internal/trail"
	"hl-delta-neutral/internal/watcher"
)

func (a *App) recordOrderEvent(ev trail.Event) {
	row := timescale.Event{
		Time:          ev.At,
		Session:       a.sessionID,
		Kind:          string(ev.Kind),
		Coin:          a.cfg.Session.Coin,
		Side:          string(ev.Side),
		ClientOrderID: ev.ClientOrderID,
		Price:         ev.Price.String(),
		Size:          ev.Size.String(),
	}
	switch ev.Kind {
	case trail.EventStalePrice:
		row.Detail = "venue price " + ev.VenuePrice.String()
	case trail.EventModifyFailed:
		if ev.Err != nil {
			row.Detail = ev.Err.Error()
		}
	}
	a.journal.Record(row)
}

func (a *App) recordSwap(req hedge.SwapRequest, res *hedge.SwapResult) {
	side := "sell"
	if req.Mode == hedge.ExactOut {
		side = "buy"
	}
	a.journal.Record(timescale.Event{
		Time:    time.Now().UTC(),
		Session: a.sessionID,
		Kind:    "swap_executed",
		Coin:    a.cfg.Session.Coin,
		Side:    side,
		TxID:    res.TxID,
		Detail:  req.InputMint + "->" + req.OutputMint + " in=" + strconv.FormatUint(res.InputAmount, 10) + " out=" + strconv.FormatUint(res.OutputAmount, 10),
	})
}

func (a *App) recordAnomaly(an watcher.Anomaly) {
	a.journal.Record(timescale.Event{
		Time:    an.At,
		Session: a.sessionID,
		Kind:    "anomaly",
		Coin:    a.cfg.Session.Coin,
		Side:    string(an.Direction),
		Size:    an.Observed.String(),
		Detail:  "previous " + an.Previous.String(),
	})
}

func (a *App) recordSession(res session.Result, runErr error) {
	outcome := res.State
	if outcome == "" {
		outcome = session.StateAborted
	}
	row := timescale.Event{
		Time:          time.Now().UTC(),
		Session:       a.sessionID,
		Kind:          "session_" + strings.ToLower(string(outcome)),
		Coin:          res.Session.Coin,
		Side:          string(res.Session.Direction),
		ClientOrderID: res.Order.ClientOrderID,
		Price:         res.Order.FinalPrice.String(),
		Size:          res.Hedged.String(),
	}
	if runErr != nil {
		row.Detail = runErr.Error()
	}
	a.journal.Record(row)
}
