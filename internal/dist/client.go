package dist

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketflow/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Client is a single WebSocket subscriber. The hub goroutine owns its
// readiness and the lifecycle of send; the pumps own the connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) addr() string {
	if c.conn == nil {
		return "-"
	}
	return c.conn.RemoteAddr().String()
}

// SendEvent queues an event for this subscriber only, used for the TRADE
// zone/extreme snapshot. The frame still consumes a global sequence number.
func (c *Client) SendEvent(ev *model.Event) {
	select {
	case c.hub.direct <- directEvent{c: c, ev: ev}:
	case <-c.hub.done:
	}
}

// ServeWS upgrades the request and registers the subscriber. Not ready
// until it sends READY.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
	conn.EnableWriteCompression(true)

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued frames into one newline-separated write.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				more, ok := <-c.send
				if !ok {
					w.Close()
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				w.Write([]byte{'\n'})
				w.Write(more)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleControl(c, msg)
	}
}

// controlMsg is the JSON form of every non-READY inbound command.
type controlMsg struct {
	Cmd   string  `json:"cmd"`
	Date  string  `json:"date"`
	Days  int     `json:"days"`
	Speed float64 `json:"speed"`
}

// handleControl dispatches one inbound message. Malformed input is logged
// and ignored; the connection stays open.
func (h *Hub) handleControl(c *Client, raw []byte) {
	msg := bytes.TrimSpace(raw)
	if len(msg) == 0 {
		return
	}
	if string(msg) == "READY" {
		h.signalReady(c)
		return
	}

	var cmd controlMsg
	if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Cmd == "" {
		h.log.Warn().Str("raw", truncate(msg, 128)).Msg("unparseable control message")
		return
	}

	switch strings.ToUpper(cmd.Cmd) {
	case "READY":
		h.signalReady(c)

	case "PLAN":
		if h.runner == nil {
			h.sendFrame(c, controlFrame("error", map[string]string{"message": "no phase runner"}))
			return
		}
		days := cmd.Days
		if days <= 0 {
			days = 2
		}
		if err := h.runner.StartPlanning(cmd.Date, days); err != nil {
			h.log.Warn().Err(err).Str("date", cmd.Date).Msg("planning start rejected")
			h.sendFrame(c, controlFrame("error", map[string]string{"message": err.Error()}))
		}

	case "TRADE":
		if h.runner == nil {
			h.sendFrame(c, controlFrame("error", map[string]string{"message": "no phase runner"}))
			return
		}
		if err := h.runner.StartTrading(c); err != nil {
			h.log.Warn().Err(err).Msg("trading start rejected")
			h.sendFrame(c, controlFrame("error", map[string]string{"message": err.Error()}))
		}

	case "SPEED":
		select {
		case h.speedCh <- cmd.Speed:
		case <-h.done:
		}

	case "STATUS":
		select {
		case h.statusTo <- c:
		case <-h.done:
		}

	default:
		h.log.Warn().Str("cmd", cmd.Cmd).Msg("unknown control command")
	}
}

func (h *Hub) signalReady(c *Client) {
	select {
	case h.readyCh <- c:
	case <-h.done:
	}
}

func (h *Hub) sendFrame(c *Client, buf []byte) {
	select {
	case h.frames <- directFrame{c: c, buf: buf}:
	case <-h.done:
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
