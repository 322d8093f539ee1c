package engine

import (
	"time"

	"breakout/internal/broker"
	"breakout/internal/schema"
)

// Commands are the only way anything reaches the snapshot. Each trigger
// source wraps its payload and enqueues; the consumer loop runs them one
// at a time.

type signalCommand struct {
	sig schema.Signal
}

func (signalCommand) Name() string { return "signal" }

type gatewayEventCommand struct {
	ev broker.Event
}

func (gatewayEventCommand) Name() string { return "gateway-event" }

type exitTickCommand struct {
	now time.Time
}

func (exitTickCommand) Name() string { return "exit-tick" }

type reconcileCommand struct {
	positions []broker.Position
	fetchErr  error
	now       time.Time
}

func (reconcileCommand) Name() string { return "reconcile" }

type flattenCommand struct{}

func (flattenCommand) Name() string { return "flatten" }
