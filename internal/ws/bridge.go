package ws

import (
	"context"
	"log/slog"

	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/log"
)

// Bridge implements estimator.Callback and broadcasts results to the WebSocket hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) OnEstimate(e estimator.Estimate) {
	msg, err := NewEnvelope(TypeCurveResult, CurveResultFromEstimate(e))
	if err != nil {
		log.Ctx(context.Background()).Error("marshaling curve result", slog.Any("error", err))
		return
	}
	b.hub.Broadcast(msg)
}
