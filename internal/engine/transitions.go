package engine

import (
	stderrors "errors"

	"github.com/yanun0323/logs"

	"breakout/internal/schema"
)

var ErrInvalidTransition = stderrors.New("invalid trade state transition")

// legalTransitions lists every status a trade may move to from each
// non-terminal status. A fill can arrive before the submit acknowledgment,
// so PendingSubmit admits Open directly.
var legalTransitions = map[schema.TradeStatus][]schema.TradeStatus{
	schema.StatusPendingSubmit: {schema.StatusSubmitted, schema.StatusOpen, schema.StatusRejected, schema.StatusOrphaned},
	schema.StatusSubmitted:     {schema.StatusOpen, schema.StatusRejected, schema.StatusOrphaned},
	schema.StatusOpen:          {schema.StatusExitScheduled, schema.StatusOrphaned},
	schema.StatusExitScheduled: {schema.StatusExiting, schema.StatusOrphaned},
	schema.StatusExiting:       {schema.StatusClosed, schema.StatusOrphaned},
}

func transitionAllowed(from, to schema.TradeStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyTransition moves a record to the next status after checking the
// move is legal. An illegal move indicates a logic bug upstream and is
// logged loudly rather than applied.
func (e *Engine) applyTransition(rec *schema.TradeRecord, to schema.TradeStatus) {
	if !transitionAllowed(rec.Status, to) {
		logs.Errorf("refusing transition: trade=%s symbol=%s %s -> %s", rec.ID, rec.Symbol, rec.Status, to)
		return
	}
	logs.Debugf("trade %s: %s -> %s", rec.ID, rec.Status, to)
	rec.Status = to
	e.metrics.IncTransition(to)
}
