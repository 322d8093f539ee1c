// Package engine owns the trade lifecycle: it is the single mutator of the
// state snapshot and the only component that talks to the broker gateway.
// Signals, timer ticks, and gateway notifications all arrive as commands on
// one queue and are applied one at a time; every transition is persisted
// before its outcome becomes visible to any other trigger.
package engine

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"breakout/internal/broker"
	"breakout/internal/bus"
	"breakout/internal/dedup"
	"breakout/internal/exits"
	"breakout/internal/journal"
	"breakout/internal/obs"
	"breakout/internal/reconcile"
	"breakout/internal/risk"
	"breakout/internal/schema"
	"breakout/internal/state"
)

// Config holds the engine timing knobs.
type Config struct {
	Horizon           time.Duration
	ExitTick          time.Duration
	ReconcileInterval time.Duration
	SubmitTimeout     time.Duration
	DedupRetention    time.Duration
	FallbackEquity    float64
	FlattenOnExit     bool
	QueueDepth        int
	Session           Session
}

func (c Config) withDefaults() Config {
	if c.ExitTick <= 0 {
		c.ExitTick = 5 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Minute
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = 7 * 24 * time.Hour
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	return c
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Gateway   broker.Gateway
	Store     *state.Store
	Risk      *risk.Engine
	Reconcile reconcile.Config
	Journal   *journal.Writer
	Metrics   *obs.Metrics
}

// View is the read-only snapshot exposure for the observer endpoint.
type View struct {
	Counters         schema.RiskCounters  `json:"counters"`
	Trades           []schema.TradeRecord `json:"trades"`
	Unmanaged        []broker.Position    `json:"unmanaged,omitempty"`
	LastReconciledAt time.Time            `json:"lastReconciledAt,omitzero"`
	ProcessedAlerts  int                  `json:"processedAlerts"`
	Equity           float64              `json:"equity"`
}

// Engine is the trade lifecycle state machine.
type Engine struct {
	cfg     Config
	window  *sessionWindow
	gateway broker.Gateway
	store   *state.Store
	risk    *risk.Engine
	recCfg  reconcile.Config
	journal *journal.Writer
	metrics *obs.Metrics

	queue *bus.Queue
	now   func() time.Time
	done  chan struct{}

	mu         sync.RWMutex
	snap       *state.Snapshot
	unmanaged  []broker.Position
	lastEquity float64
	failed     bool
	runErr     error
}

// New wires an engine around a loaded snapshot. The snapshot must already
// be normalized.
func New(cfg Config, snap *state.Snapshot, deps Deps) (*Engine, error) {
	cfg = cfg.withDefaults()
	window, err := cfg.Session.compile()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		window:  window,
		gateway: deps.Gateway,
		store:   deps.Store,
		risk:    deps.Risk,
		recCfg:  deps.Reconcile,
		journal: deps.Journal,
		metrics: deps.Metrics,
		queue:   bus.NewQueue(cfg.QueueDepth),
		now:     time.Now,
		done:    make(chan struct{}),
		snap:    snap,
	}, nil
}

// Run starts the trigger goroutines and consumes commands until the
// context is cancelled or the queue is closed and drained. It returns the
// error that halted the engine, if any.
func (e *Engine) Run(ctx context.Context) error {
	tickCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.exitTicker(tickCtx) }()
	go func() { defer wg.Done(); e.reconcileTicker(tickCtx) }()
	go func() { defer wg.Done(); e.pumpEvents(tickCtx) }()

	e.queue.Run(ctx, e.dispatch)
	cancel()
	wg.Wait()
	close(e.done)
	return e.runErr
}

// OfferSignal enqueues one signal, blocking until the loop has room.
// Arrival order is preserved.
func (e *Engine) OfferSignal(ctx context.Context, sig schema.Signal) error {
	return e.queue.Publish(ctx, signalCommand{sig: sig})
}

// Shutdown stops accepting new commands, optionally flattens open
// positions, and waits for in-flight transitions to reach a persisted
// state.
func (e *Engine) Shutdown(ctx context.Context) {
	if e.cfg.FlattenOnExit {
		if err := e.queue.TryPublish(flattenCommand{}); err != nil {
			logs.Warnf("flatten not enqueued: %v", err)
		}
	}
	e.queue.Close()
	select {
	case <-e.done:
	case <-ctx.Done():
		logs.Warn("shutdown wait expired before drain completed")
	}
}

// View returns a copy of the current state for read-only consumers.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v := View{
		Counters:         e.snap.Counters,
		LastReconciledAt: e.snap.LastReconciledAt,
		ProcessedAlerts:  len(e.snap.ProcessedAlerts),
		Equity:           e.lastEquity,
		Unmanaged:        append([]broker.Position(nil), e.unmanaged...),
	}
	for _, t := range e.snap.Trades {
		v.Trades = append(v.Trades, *t)
	}
	sort.Slice(v.Trades, func(i, j int) bool { return v.Trades[i].Symbol < v.Trades[j].Symbol })
	return v
}

func (e *Engine) exitTicker(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ExitTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.queue.TryPublish(exitTickCommand{now: e.now()})
		}
	}
}

func (e *Engine) reconcileTicker(ctx context.Context) {
	// An immediate pass resolves anything a previous process left behind.
	e.fetchAndQueueReconcile(ctx)
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fetchAndQueueReconcile(ctx)
		}
	}
}

// fetchAndQueueReconcile performs the blocking position fetch outside the
// consumer loop and enqueues the result.
func (e *Engine) fetchAndQueueReconcile(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	positions, err := e.gateway.ListPositions(fetchCtx)
	cancel()
	e.queue.TryPublish(reconcileCommand{positions: positions, fetchErr: err, now: e.now()})
}

func (e *Engine) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.gateway.Events():
			if !ok {
				return
			}
			if err := e.queue.Publish(ctx, gatewayEventCommand{ev: ev}); err != nil {
				return
			}
		}
	}
}

func (e *Engine) dispatch(cmd bus.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return
	}
	switch c := cmd.(type) {
	case signalCommand:
		e.handleSignal(c.sig)
	case gatewayEventCommand:
		e.handleGatewayEvent(c.ev)
	case exitTickCommand:
		e.handleExitTick(c.now)
	case reconcileCommand:
		e.handleReconcile(c)
	case flattenCommand:
		e.handleFlatten()
	default:
		logs.Warnf("unknown command: %s", cmd.Name())
	}
}

// handleSignal runs dedup, admission, and the entry submission. The
// fingerprint is committed in the same snapshot write as its disposition:
// a crash before that write re-delivers the signal instead of dropping it.
func (e *Engine) handleSignal(sig schema.Signal) {
	now := e.now()
	if e.window != nil && !e.window.contains(now) {
		logs.Debugf("outside market hours, ignoring signal: symbol=%s", sig.Symbol)
		return
	}

	fp := dedup.Fingerprint(sig)
	if e.snap.ProcessedAlerts.Contains(fp) {
		e.metrics.IncSignal("duplicate")
		logs.Debugf("duplicate signal: symbol=%s fingerprint=%s", sig.Symbol, fp)
		return
	}

	e.snap.Counters = e.snap.Counters.Rollover(now)
	_, held := e.snap.Trade(sig.Symbol)
	decision := e.risk.Evaluate(sig, risk.View{
		Counters:   e.snap.Counters,
		SymbolHeld: held,
		Equity:     e.equity(),
	})

	if !decision.Admitted {
		e.snap.ProcessedAlerts.Mark(fp, now)
		if e.persist() != nil {
			return
		}
		e.metrics.IncSignal("denied")
		e.metrics.IncDenial(decision.Reason)
		logs.Infof("signal denied: symbol=%s reason=%s", sig.Symbol, decision.Reason)
		return
	}

	rec := &schema.TradeRecord{
		ID:           uuid.NewString(),
		Fingerprint:  fp,
		Symbol:       sig.Symbol,
		Side:         schema.SideBuy,
		RequestedQty: decision.Qty,
		SignalPrice:  sig.Price,
		StopPrice:    decision.StopPrice,
		Status:       schema.StatusPendingSubmit,
		CreatedAt:    now,
	}
	e.snap.Trades[sig.Symbol] = rec
	e.snap.Counters.TradesToday++
	e.snap.Counters.OpenPositions++
	e.snap.ProcessedAlerts.Mark(fp, now)
	e.metrics.IncTransition(schema.StatusPendingSubmit)
	e.metrics.SetOpenPositions(e.snap.Counters.OpenPositions)

	// The submission attempt must be durable before the call goes out, so
	// a crash mid-call leaves a marker for reconciliation.
	if e.persist() != nil {
		return
	}
	e.metrics.IncSignal("admitted")
	logs.Infof("signal admitted: symbol=%s qty=%d price=%.2f", sig.Symbol, decision.Qty, sig.Price)

	orderID, err := e.submit(broker.SubmitRequest{
		ClientOrderID: rec.ID,
		Symbol:        sig.Symbol,
		Side:          schema.SideBuy,
		Qty:           decision.Qty,
		Type:          schema.OrderTypeMarket,
		StopPrice:     decision.StopPrice,
	})
	switch {
	case err == nil:
		rec.EntryOrderID = orderID
		e.applyTransition(rec, schema.StatusSubmitted)
		e.persist()
	case submitUnknown(err):
		// Unknown outcome: the record stays PendingSubmit and the
		// reconciler discovers the truth. Resubmitting here could open
		// the position twice.
		logs.Warnf("submission outcome unknown: symbol=%s trade=%s", sig.Symbol, rec.ID)
	default:
		logs.Infof("entry rejected by broker: symbol=%s err=%v", sig.Symbol, err)
		e.applyTransition(rec, schema.StatusRejected)
		e.archive(rec, now)
		e.persist()
	}
}

func (e *Engine) handleGatewayEvent(ev broker.Event) {
	e.metrics.IncGatewayEvent(string(ev.Kind))
	switch ev.Kind {
	case broker.EventDisconnect:
		logs.Warnf("gateway disconnected: %s", ev.Reason)
		return
	case broker.EventReconnect:
		logs.Info("gateway reconnected")
		return
	}

	rec, isExit := e.findOrder(ev)
	if rec == nil {
		logs.Warnf("event for unknown order: kind=%s order=%s symbol=%s", ev.Kind, ev.OrderID, ev.Symbol)
		return
	}

	switch ev.Kind {
	case broker.EventFill, broker.EventPartialFill:
		if isExit {
			e.applyExitFill(rec, ev)
		} else {
			e.applyEntryFill(rec, ev)
		}
	case broker.EventReject, broker.EventCancel:
		if isExit {
			if rec.Status != schema.StatusExitScheduled && rec.Status != schema.StatusExiting {
				logs.Debugf("stale exit order event: symbol=%s status=%s kind=%s", rec.Symbol, rec.Status, ev.Kind)
				return
			}
			logs.Errorf("exit order refused: symbol=%s order=%s reason=%s", rec.Symbol, ev.OrderID, ev.Reason)
			e.orphan(rec, schema.OrphanExitRejected)
			e.persist()
		} else {
			e.applyEntryTermination(rec, ev)
		}
	}
}

// applyEntryTermination handles a reject or cancel for an entry order. It
// acts only while the entry is still in flight; a late event for a record
// that already opened is ignored rather than allowed to erase a live
// position. A cancel after a partial fill leaves broker-held shares, so
// the record opens with the filled quantity and the scheduler closes it at
// the horizon instead of the shares vanishing from local state.
func (e *Engine) applyEntryTermination(rec *schema.TradeRecord, ev broker.Event) {
	if rec.Status != schema.StatusPendingSubmit && rec.Status != schema.StatusSubmitted {
		logs.Debugf("stale entry order event: symbol=%s status=%s kind=%s", rec.Symbol, rec.Status, ev.Kind)
		return
	}
	if rec.FilledQty > 0 {
		logs.Warnf("entry terminated after partial fill, holding %d/%d shares: symbol=%s",
			rec.FilledQty, rec.RequestedQty, rec.Symbol)
		if rec.EntryTime.IsZero() {
			rec.EntryTime = e.now()
		}
		rec.ExitDeadline = exits.Horizon(e.cfg.Horizon).Deadline(rec.EntryTime)
		e.applyTransition(rec, schema.StatusOpen)
		e.persist()
		return
	}
	logs.Infof("entry refused: symbol=%s reason=%s", rec.Symbol, ev.Reason)
	e.applyTransition(rec, schema.StatusRejected)
	e.archive(rec, e.now())
	e.persist()
}

// findOrder locates the record an event belongs to. A fill for a
// PendingSubmit record whose submit call timed out is matched by symbol
// and adopts the broker order id.
func (e *Engine) findOrder(ev broker.Event) (rec *schema.TradeRecord, isExit bool) {
	if ev.OrderID != "" {
		for _, t := range e.snap.Trades {
			if t.EntryOrderID == ev.OrderID {
				return t, false
			}
			if t.ExitOrderID != "" && t.ExitOrderID == ev.OrderID {
				return t, true
			}
		}
	}
	if t, ok := e.snap.Trades[ev.Symbol]; ok && t.Status == schema.StatusPendingSubmit {
		t.EntryOrderID = ev.OrderID
		return t, false
	}
	return nil, false
}

func (e *Engine) applyEntryFill(rec *schema.TradeRecord, ev broker.Event) {
	if rec.Status != schema.StatusPendingSubmit && rec.Status != schema.StatusSubmitted {
		logs.Debugf("stale entry fill: symbol=%s status=%s", rec.Symbol, rec.Status)
		return
	}
	rec.FilledQty = ev.FilledQty
	if ev.Kind == broker.EventPartialFill && ev.FilledQty < rec.RequestedQty {
		if rec.Status == schema.StatusPendingSubmit {
			e.applyTransition(rec, schema.StatusSubmitted)
		}
		if ev.AvgPrice > 0 {
			rec.EntryPrice = ev.AvgPrice
		}
		if rec.EntryTime.IsZero() {
			rec.EntryTime = ev.At
			if rec.EntryTime.IsZero() {
				rec.EntryTime = e.now()
			}
		}
		e.persist()
		logs.Infof("partial fill: symbol=%s filled=%d/%d", rec.Symbol, ev.FilledQty, rec.RequestedQty)
		return
	}

	entryTime := ev.At
	if entryTime.IsZero() {
		entryTime = e.now()
	}
	rec.EntryPrice = ev.AvgPrice
	rec.EntryTime = entryTime
	// The deadline is fixed here, atomically with the Open transition,
	// and never recomputed afterwards.
	rec.ExitDeadline = exits.Horizon(e.cfg.Horizon).Deadline(entryTime)
	e.applyTransition(rec, schema.StatusOpen)
	if e.persist() != nil {
		return
	}
	logs.Infof("position open: symbol=%s qty=%d price=%.2f exit_deadline=%s",
		rec.Symbol, rec.FilledQty, rec.EntryPrice, rec.ExitDeadline.Format(time.RFC3339))
}

func (e *Engine) applyExitFill(rec *schema.TradeRecord, ev broker.Event) {
	if rec.Status != schema.StatusExiting {
		logs.Debugf("stale exit fill: symbol=%s status=%s", rec.Symbol, rec.Status)
		return
	}
	if ev.Kind == broker.EventPartialFill && ev.FilledQty < rec.FilledQty {
		logs.Infof("partial exit fill: symbol=%s filled=%d/%d", rec.Symbol, ev.FilledQty, rec.FilledQty)
		return
	}

	rec.ExitPrice = ev.AvgPrice
	rec.ExitTime = ev.At
	if rec.ExitTime.IsZero() {
		rec.ExitTime = e.now()
	}
	e.applyTransition(rec, schema.StatusClosed)
	closed := rec.Closed()
	e.archive(rec, e.now())
	if e.persist() != nil {
		return
	}
	if err := e.journal.Record(closed); err != nil {
		logs.Errorf("journal append failed, trade=%s, err: %+v", closed.TradeID, err)
	}
	logs.Infof("position closed: symbol=%s reason=%s pnl=%.2f (%.2f%%)",
		closed.Symbol, closed.ExitReason, closed.PnL, closed.PnLPct)
}

func (e *Engine) handleExitTick(now time.Time) {
	e.snap.Counters = e.snap.Counters.Rollover(now)
	for _, symbol := range exits.Due(e.snap.Trades, now) {
		if e.failed {
			return
		}
		e.issueExit(e.snap.Trades[symbol], schema.ExitReasonTime)
	}
}

// issueExit drives Open -> ExitScheduled -> Exiting. The intermediate
// persist makes the close attempt recoverable: a record found in
// ExitScheduled without an exit order id crashed before the call and is
// safe to submit.
func (e *Engine) issueExit(rec *schema.TradeRecord, reason string) {
	if rec.Status == schema.StatusOpen {
		rec.ExitReason = reason
		e.applyTransition(rec, schema.StatusExitScheduled)
		if e.persist() != nil {
			return
		}
		logs.Infof("exit scheduled: symbol=%s reason=%s", rec.Symbol, reason)
	}
	if rec.Status != schema.StatusExitScheduled || rec.ExitOrderID != "" {
		return
	}

	orderID, err := e.submit(broker.SubmitRequest{
		ClientOrderID: rec.ID + "-exit",
		Symbol:        rec.Symbol,
		Side:          opposite(rec.Side),
		Qty:           rec.FilledQty,
		Type:          schema.OrderTypeMarket,
	})
	switch {
	case err == nil:
		rec.ExitOrderID = orderID
		e.applyTransition(rec, schema.StatusExiting)
		e.persist()
	case submitUnknown(err):
		// The close may or may not exist at the broker. Retrying could
		// sell the position twice, so this goes to an operator.
		logs.Errorf("exit outcome unknown: symbol=%s trade=%s", rec.Symbol, rec.ID)
		e.orphan(rec, schema.OrphanStaleSubmit)
		e.persist()
	default:
		logs.Errorf("exit submission refused: symbol=%s err=%v", rec.Symbol, err)
		e.orphan(rec, schema.OrphanExitRejected)
		e.persist()
	}
}

func (e *Engine) handleReconcile(cmd reconcileCommand) {
	if cmd.fetchErr != nil {
		logs.Warnf("reconcile fetch failed (transient, will retry): %+v", cmd.fetchErr)
		return
	}

	res := reconcile.Diff(e.snap.Trades, cmd.positions, e.recCfg, cmd.now)
	for _, f := range res.Orphans {
		rec := e.snap.Trades[f.Symbol]
		logs.Errorf("reconciliation conflict: symbol=%s reason=%s detail=%q", f.Symbol, f.Reason, f.Detail)
		e.orphan(rec, f.Reason)
	}
	for _, p := range res.Unmanaged {
		logs.Errorf("unmanaged broker position (not adopted): symbol=%s qty=%d", p.Symbol, p.Qty)
	}
	e.unmanaged = res.Unmanaged
	e.metrics.SetUnmanaged(len(res.Unmanaged))

	e.snap.LastReconciledAt = cmd.now
	if n := e.snap.ProcessedAlerts.Trim(e.cfg.DedupRetention, cmd.now); n > 0 {
		logs.Infof("trimmed %d processed alerts past retention", n)
	}
	e.refreshCounters(cmd.now)
	e.persist()
}

func (e *Engine) handleFlatten() {
	logs.Info("closing open positions: operator initiated flatten")
	var symbols []string
	for symbol, t := range e.snap.Trades {
		if t.Status == schema.StatusOpen || t.Status == schema.StatusExitScheduled {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		if e.failed {
			return
		}
		e.issueExit(e.snap.Trades[symbol], schema.ExitReasonOperatorFlatten)
	}
}

// orphan downgrades a record for operator review and frees its risk slot.
func (e *Engine) orphan(rec *schema.TradeRecord, reason schema.OrphanReason) {
	rec.OrphanReason = reason
	e.applyTransition(rec, schema.StatusOrphaned)
	e.metrics.IncOrphan(reason)
	e.refreshCounters(e.now())
}

// archive removes a terminal record from the non-terminal map.
func (e *Engine) archive(rec *schema.TradeRecord, now time.Time) {
	delete(e.snap.Trades, rec.Symbol)
	e.refreshCounters(now)
}

func (e *Engine) refreshCounters(now time.Time) {
	e.snap.Counters = schema.RecomputeCounters(e.snap.Trades, e.snap.Counters, now)
	e.metrics.SetOpenPositions(e.snap.Counters.OpenPositions)
}

func (e *Engine) submit(req broker.SubmitRequest) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()
	return e.gateway.SubmitOrder(ctx, req)
}

func (e *Engine) equity() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()
	v, err := e.gateway.AccountEquity(ctx)
	if err != nil || v <= 0 {
		if e.lastEquity > 0 {
			return e.lastEquity
		}
		return e.cfg.FallbackEquity
	}
	e.lastEquity = v
	e.metrics.SetEquity(v)
	return v
}

// persist writes the snapshot. A failed write halts the engine: trading on
// state that cannot be made durable risks duplicate orders after restart.
func (e *Engine) persist() error {
	e.snap.SavedAt = e.now()
	start := time.Now()
	err := e.store.Write(e.snap)
	e.metrics.ObserveSnapshotWrite(time.Since(start))
	if err != nil {
		logs.Errorf("snapshot write failed, halting engine, err: %+v", err)
		e.failed = true
		e.runErr = err
		e.queue.Close()
	}
	return err
}

func submitUnknown(err error) bool {
	return stderrors.Is(err, broker.ErrSubmitUnknown) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled)
}

func opposite(side schema.Side) schema.Side {
	if side == schema.SideBuy {
		return schema.SideSell
	}
	return schema.SideBuy
}
