package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	payload := ErrorPayload{Message: "window must be odd", Invalid: true}

	msg, err := NewEnvelope(TypeCurveError, payload)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, TypeCurveError, env.Type)

	var parsed ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &parsed))
	assert.Equal(t, payload, parsed)
}

func TestNewEnvelope_NoPayload(t *testing.T) {
	msg, err := NewEnvelope(TypeCurveCompute, nil)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))

	assert.Equal(t, TypeCurveCompute, env.Type)
	assert.Nil(t, env.Payload)
}

type countGauge struct{ counts []int }

func (g *countGauge) SetWebsocketClients(n int) { g.counts = append(g.counts, n) }

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	gauge := &countGauge{}
	hub.SetGauge(gauge)

	c := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())

	// Second unregister is a no-op
	hub.Unregister(c)
	assert.Equal(t, []int{1, 0}, gauge.counts)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	c1 := &Client{hub: hub, send: make(chan []byte, 16)}
	c2 := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c1)
	hub.Register(c2)

	msg := []byte(`{"type":"test"}`)
	hub.Broadcast(msg)

	assert.Equal(t, msg, <-c1.send)
	assert.Equal(t, msg, <-c2.send)
}

func TestHub_BroadcastFullBuffer(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(c)

	hub.Broadcast([]byte("a"))
	hub.Broadcast([]byte("b"))

	assert.Equal(t, []byte("a"), <-c.send)
	assert.Empty(t, c.send)
}

func TestMessageTypes(t *testing.T) {
	assert.Equal(t, "curve:compute", TypeCurveCompute)
	assert.Equal(t, "selection:set", TypeSelectionSet)
	assert.Equal(t, "curve:result", TypeCurveResult)
	assert.Equal(t, "curve:error", TypeCurveError)
	assert.Equal(t, "data:loaded", TypeDataLoaded)
}
