package broker

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"breakout/internal/schema"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaConfig holds the live gateway credentials and pacing.
type AlpacaConfig struct {
	Key              string  `json:"key"`
	Secret           string  `json:"secret"`
	BaseURL          string  `json:"baseUrl"`
	SubmitsPerSecond float64 `json:"submitsPerSecond"`
}

// AlpacaGateway implements Gateway against the Alpaca trading API. Trade
// updates stream in the background; stream loss surfaces as a disconnect
// event and the loop reconnects with backoff.
type AlpacaGateway struct {
	client  *alpaca.Client
	limiter *rate.Limiter
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAlpacaGateway connects the client and starts the trade-update stream.
func NewAlpacaGateway(ctx context.Context, cfg AlpacaConfig) *AlpacaGateway {
	if cfg.SubmitsPerSecond <= 0 {
		cfg.SubmitsPerSecond = 2
	}
	streamCtx, cancel := context.WithCancel(ctx)
	g := &AlpacaGateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.Key,
			APISecret: cfg.Secret,
			BaseURL:   cfg.BaseURL,
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitsPerSecond), 1),
		events:  make(chan Event, 256),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go g.streamLoop(streamCtx)
	return g
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string { return "alpaca" }

func (g *AlpacaGateway) streamLoop(ctx context.Context) {
	defer close(g.done)
	backoff := time.Second
	for {
		err := g.client.StreamTradeUpdates(ctx, g.onTradeUpdate, alpaca.StreamTradeUpdatesRequest{})
		if ctx.Err() != nil {
			return
		}
		logs.Errorf("trade update stream dropped, err: %+v", err)
		g.emit(Event{Kind: EventDisconnect, Reason: err.Error(), At: time.Now().UTC()})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
		g.emit(Event{Kind: EventReconnect, At: time.Now().UTC()})
	}
}

func (g *AlpacaGateway) onTradeUpdate(tu alpaca.TradeUpdate) {
	ev := Event{
		OrderID: tu.Order.ID,
		Symbol:  tu.Order.Symbol,
		At:      tu.At,
	}
	ev.FilledQty = tu.Order.FilledQty.IntPart()
	if tu.Order.FilledAvgPrice != nil {
		ev.AvgPrice = tu.Order.FilledAvgPrice.InexactFloat64()
	}

	switch tu.Event {
	case "fill":
		ev.Kind = EventFill
	case "partial_fill":
		ev.Kind = EventPartialFill
	case "rejected":
		ev.Kind = EventReject
		ev.Reason = "rejected by broker"
	case "canceled", "expired":
		ev.Kind = EventCancel
		ev.Reason = tu.Event
	default:
		return
	}
	g.emit(ev)
}

func (g *AlpacaGateway) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
		logs.Warnf("gateway event dropped: kind=%s order=%s", ev.Kind, ev.OrderID)
	}
}

// SubmitOrder places the order. A context deadline hit mid-call means the
// outcome is unknown: the order may have reached the broker, so the caller
// must leave resolution to reconciliation.
func (g *AlpacaGateway) SubmitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", ErrSubmitUnknown
	}

	qty := decimal.NewFromInt(req.Qty)
	por := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpacaType(req.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == schema.OrderTypeLimit && req.LimitPrice > 0 {
		lp := decimal.NewFromFloat(req.LimitPrice)
		por.LimitPrice = &lp
	}
	if req.StopPrice > 0 && req.Side == schema.SideBuy {
		sp := decimal.NewFromFloat(req.StopPrice)
		por.OrderClass = alpaca.OTO
		por.StopLoss = &alpaca.StopLoss{StopPrice: &sp}
	}

	type result struct {
		order *alpaca.Order
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		order, err := g.client.PlaceOrder(por)
		ch <- result{order: order, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrSubmitUnknown
	case res := <-ch:
		if res.err != nil {
			var apiErr *alpaca.APIError
			if stderrors.As(res.err, &apiErr) {
				// The broker spoke: this is a definitive rejection.
				return "", errors.Wrap(res.err, "order rejected")
			}
			// Transport failure after the request may have left the
			// broker holding the order.
			return "", ErrSubmitUnknown
		}
		return res.order.ID, nil
	}
}

// CancelOrder cancels an open order by broker id.
func (g *AlpacaGateway) CancelOrder(_ context.Context, orderID string) error {
	if err := g.client.CancelOrder(orderID); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	return nil
}

// ListPositions fetches the authoritative position list.
func (g *AlpacaGateway) ListPositions(_ context.Context) ([]Position, error) {
	positions, err := g.client.GetPositions()
	if err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	out := make([]Position, 0, len(positions))
	for _, p := range positions {
		side := schema.SideBuy
		if strings.EqualFold(string(p.Side), "short") {
			side = schema.SideSell
		}
		out = append(out, Position{
			Symbol:  p.Symbol,
			Qty:     p.Qty.Abs().IntPart(),
			Side:    side,
			AvgCost: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// AccountEquity returns the net liquidation value.
func (g *AlpacaGateway) AccountEquity(_ context.Context) (float64, error) {
	acct, err := g.client.GetAccount()
	if err != nil {
		return 0, errors.Wrap(err, "get account")
	}
	return acct.Equity.InexactFloat64(), nil
}

// Events returns the notification stream.
func (g *AlpacaGateway) Events() <-chan Event { return g.events }

// Close stops the stream loop and the event channel.
func (g *AlpacaGateway) Close() error {
	g.cancel()
	<-g.done
	close(g.events)
	return nil
}

func alpacaSide(side schema.Side) alpaca.Side {
	if side == schema.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaType(t schema.OrderType) alpaca.OrderType {
	if t == schema.OrderTypeLimit {
		return alpaca.Limit
	}
	return alpaca.Market
}
