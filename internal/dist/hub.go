// Package dist fans stream events out to WebSocket subscribers. One hub
// goroutine owns the subscriber set, the shared pending buffer and the
// global sequence counter; registration, readiness, broadcast and control
// effects all arrive as messages, so no lock guards any of it.
package dist

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
)

// PhaseRunner starts replay phases on behalf of WS control commands. The
// core service implements it; calls must return promptly (the replay runs
// on its own goroutine).
type PhaseRunner interface {
	// StartPlanning replays the days leading into date through the shared
	// distributor under the planning phase tag.
	StartPlanning(date string, days int) error
	// StartTrading sends the live stream's open zones and extremes to the
	// requesting subscriber, then runs the coarse warm-up replay under the
	// trading phase tag.
	StartTrading(to EventSender) error
	// ActivePhases lists the replay phases currently running.
	ActivePhases() []model.Phase
}

// EventSender delivers events to a single subscriber, outside the shared
// broadcast path.
type EventSender interface {
	SendEvent(ev *model.Event)
}

// Config bounds the hub's queues.
type Config struct {
	// PendingLimit caps the shared not-ready buffer; beyond it the oldest
	// envelope is dropped.
	PendingLimit int `yaml:"pending_limit" default:"4096" validate:"gt=0"`
	// SendBuffer is the per-client outbound queue; a subscriber that falls
	// this far behind is dropped.
	SendBuffer int `yaml:"send_buffer" default:"256" validate:"gt=0"`
	// EventBuffer absorbs publish bursts from concurrent pipelines.
	EventBuffer int `yaml:"event_buffer" default:"1024" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{PendingLimit: 4096, SendBuffer: 256, EventBuffer: 1024}
}

// Status is the hub's self-report, served to the STATUS control command and
// the operator API.
type Status struct {
	Clients   int      `json:"clients"`
	Ready     int      `json:"ready"`
	Pending   int      `json:"pending"`
	Seq       uint64   `json:"seq"`
	SpeedHint float64  `json:"speed_hint"`
	Phases    []string `json:"phases"`
}

type directEvent struct {
	c  *Client
	ev *model.Event
}

type directFrame struct {
	c   *Client
	buf []byte
}

// Hub implements model.EventSink. Events published by any pipeline are
// serialized exactly once and fanned out to every ready subscriber; while
// no subscriber is ready they accumulate in the pending ring and the next
// READY drains the backlog in order.
type Hub struct {
	cfg    Config
	log    zerolog.Logger
	prom   *metrics.Metrics
	runner PhaseRunner

	events     chan *model.Event
	register   chan *Client
	unregister chan *Client
	readyCh    chan *Client
	direct     chan directEvent
	frames     chan directFrame
	speedCh    chan float64
	statusTo   chan *Client
	statsReq   chan chan Status

	done chan struct{}

	// owned by the Run goroutine; clients maps subscriber -> ready.
	clients   map[*Client]bool
	pending   *pendingRing
	seq       uint64
	speedHint float64
}

func New(cfg Config, prom *metrics.Metrics, log zerolog.Logger) *Hub {
	if prom == nil {
		prom = metrics.New(nil)
	}
	return &Hub{
		cfg:        cfg,
		log:        log,
		prom:       prom,
		events:     make(chan *model.Event, cfg.EventBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		readyCh:    make(chan *Client),
		direct:     make(chan directEvent, 64),
		frames:     make(chan directFrame, 64),
		speedCh:    make(chan float64),
		statusTo:   make(chan *Client),
		statsReq:   make(chan chan Status),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		pending:    newPendingRing(cfg.PendingLimit),
	}
}

// SetRunner wires the phase runner. Must be called before Run.
func (h *Hub) SetRunner(r PhaseRunner) { h.runner = r }

// Publish queues an event for fan-out. It never blocks: when the hub can't
// keep up the event is counted as dropped rather than stalling a pipeline.
func (h *Hub) Publish(ev *model.Event) {
	select {
	case h.events <- ev:
	default:
		h.prom.EventsDropped.Inc()
		h.log.Warn().Str("type", string(ev.Type)).Msg("event queue full, dropping")
	}
}

// Run owns all hub state until ctx is cancelled, then closes every
// subscriber's queue and returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.prom.ClientsConnected.Set(0)
			return

		case c := <-h.register:
			h.clients[c] = false
			h.prom.ClientsConnected.Inc()
			h.log.Info().Str("addr", c.addr()).Int("clients", len(h.clients)).Msg("subscriber connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.prom.ClientsConnected.Dec()
				h.log.Info().Str("addr", c.addr()).Int("clients", len(h.clients)).Msg("subscriber disconnected")
			}

		case c := <-h.readyCh:
			h.markReady(c)

		case ev := <-h.events:
			h.broadcast(ev)

		case d := <-h.direct:
			if _, ok := h.clients[d.c]; !ok {
				continue
			}
			h.seq++
			d.ev.Seq = h.seq
			h.queue(d.c, envelope(d.ev))

		case f := <-h.frames:
			if _, ok := h.clients[f.c]; ok {
				h.queue(f.c, f.buf)
			}

		case sp := <-h.speedCh:
			h.speedHint = sp

		case c := <-h.statusTo:
			if _, ok := h.clients[c]; ok {
				h.queue(c, controlFrame("status", h.status()))
			}

		case reply := <-h.statsReq:
			reply <- h.status()
		}
	}
}

// Stats answers from the hub goroutine; zero Status after shutdown.
func (h *Hub) Stats() Status {
	reply := make(chan Status, 1)
	select {
	case h.statsReq <- reply:
		select {
		case st := <-reply:
			return st
		case <-h.done:
			return Status{}
		}
	case <-h.done:
		return Status{}
	}
}

func (h *Hub) status() Status {
	st := Status{
		Clients:   len(h.clients),
		Pending:   h.pending.depth(),
		Seq:       h.seq,
		SpeedHint: h.speedHint,
	}
	for _, rdy := range h.clients {
		if rdy {
			st.Ready++
		}
	}
	if h.runner != nil {
		for _, p := range h.runner.ActivePhases() {
			st.Phases = append(st.Phases, string(p))
		}
	}
	return st
}

func (h *Hub) markReady(c *Client) {
	rdy, ok := h.clients[c]
	if !ok || rdy {
		return
	}
	h.clients[c] = true
	if backlog := h.pending.drain(); len(backlog) > 0 {
		// One coalesced write: the backlog can exceed the per-client
		// queue, and the write pump already newline-separates frames.
		h.queue(c, bytes.Join(backlog, []byte{'\n'}))
		h.prom.PendingDepth.Set(0)
	}
	h.log.Info().Str("addr", c.addr()).Msg("subscriber ready")
}

func (h *Hub) broadcast(ev *model.Event) {
	h.seq++
	ev.Seq = h.seq
	frame := envelope(ev)
	h.prom.EventsBroadcast.Inc()

	ready := 0
	for c, rdy := range h.clients {
		if !rdy {
			continue
		}
		ready++
		h.queue(c, frame)
	}
	if ready == 0 {
		if h.pending.push(frame) {
			h.prom.EventsDropped.Inc()
			h.log.Warn().Uint64("seq", ev.Seq).Msg("pending buffer full, dropped oldest event")
		}
		h.prom.PendingDepth.Set(float64(h.pending.depth()))
	}
}

// queue hands a frame to one subscriber. A full queue means the subscriber
// stopped keeping up; it is dropped so the rest of the fan-out is
// undisturbed.
func (h *Hub) queue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		delete(h.clients, c)
		close(c.send)
		h.prom.ClientsConnected.Dec()
		h.prom.ClientsDropped.Inc()
		h.log.Warn().Str("addr", c.addr()).Msg("subscriber too slow, dropped")
	}
}

// envelope hand-builds the broadcast JSON. The payload was serialized by
// the event itself; everything else is appended without a Marshal pass.
func envelope(ev *model.Event) []byte {
	data := ev.PayloadJSON()
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"eventType":"`...)
	buf = append(buf, ev.Type...)
	buf = append(buf, `","timestamp":`...)
	buf = strconv.AppendInt(buf, ev.TS, 10)
	buf = append(buf, `,"phase":"`...)
	buf = append(buf, ev.Phase...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendUint(buf, ev.Seq, 10)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// controlFrame builds the non-event outbound frames (status, errors). Same
// outer shape as the broadcast envelope, no sequence number.
func controlFrame(typ string, payload interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"eventType": typ,
		"timestamp": time.Now().UnixMilli(),
		"data":      payload,
	})
	return b
}
