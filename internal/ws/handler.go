package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages WebSocket connections and routes messages to the engine.
type Handler struct {
	hub    *Hub
	engine *estimator.Engine
}

func NewHandler(hub *Hub, engine *estimator.Engine) *Handler {
	return &Handler{hub: hub, engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	// Send initial data:loaded message
	h.sendDataLoaded(ctx, client)

	// Replay the latest curve so late joiners see it
	if last, ok := h.engine.Last(); ok {
		if msg, err := NewEnvelope(TypeCurveResult, CurveResultFromEstimate(last)); err == nil {
			h.send(client, msg)
		}
	}

	h.readPump(ctx, client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).WarnContext(ctx, "websocket read error", slog.Any("error", err))
			}
			return
		}

		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid message", slog.Any("error", err))
		return
	}

	loc := h.engine.Defaults().Location

	switch env.Type {
	case TypeCurveCompute:
		var p ComputePayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.sendError(ctx, c, err, true)
				return
			}
		}
		req, err := p.Request(loc)
		if err != nil {
			h.sendError(ctx, c, err, true)
			return
		}
		// The engine callback broadcasts the result to every client.
		if _, err := h.engine.Estimate(ctx, req); err != nil {
			invalid := errors.Is(err, clearsky.ErrInvalidParameter) || errors.Is(err, estimator.ErrSelection)
			h.sendError(ctx, c, err, invalid)
		}

	case TypeSelectionSet:
		var p SelectionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(ctx, c, err, true)
			return
		}
		sel, err := p.Selection(loc)
		if err != nil {
			h.sendError(ctx, c, err, true)
			return
		}
		if err := h.engine.SetSelection(sel); err != nil {
			h.sendError(ctx, c, err, true)
			return
		}
		h.broadcastDataLoaded(ctx)

	default:
		log.Ctx(ctx).WarnContext(ctx, "unknown message type", slog.String("type", env.Type))
	}
}

func (h *Handler) sendError(ctx context.Context, c *Client, err error, invalid bool) {
	log.Ctx(ctx).InfoContext(ctx, "curve request failed", slog.Any("error", err))
	msg, merr := NewEnvelope(TypeCurveError, ErrorPayload{Message: err.Error(), Invalid: invalid})
	if merr != nil {
		return
	}
	h.send(c, msg)
}

func (h *Handler) broadcastDataLoaded(ctx context.Context) {
	msg, err := h.dataLoadedMessage()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "creating data:loaded message", slog.Any("error", err))
		return
	}
	h.hub.Broadcast(msg)
}

func (h *Handler) dataLoadedMessage() ([]byte, error) {
	tr := h.engine.TimeRange()
	defaults := h.engine.Defaults()

	payload := DataLoadedPayload{
		Series: SeriesFromModel(h.engine.Series(), h.engine.SampleCount),
		TimeRange: TimeRangeInfo{
			Start: tr.Start.Format(time.RFC3339),
			End:   tr.End.Format(time.RFC3339),
		},
		Selection: SelectionFromStore(h.engine.Selection()),
		Defaults: DefaultsInfo{
			Granularity: defaults.Granularity,
			Window:      defaults.Window,
			Order:       defaults.Order,
		},
	}

	return NewEnvelope(TypeDataLoaded, payload)
}

func (h *Handler) sendDataLoaded(ctx context.Context, c *Client) {
	msg, err := h.dataLoadedMessage()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "creating data:loaded message", slog.Any("error", err))
		return
	}
	h.send(c, msg)
}

func (h *Handler) send(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}
