package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client is one websocket push peer backed by a hub subscriber.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	sub  *Subscriber

	// initial is written before any queued message: welcome, then replay.
	initial [][]byte
	// lastSeq skips queued messages already sent during replay.
	lastSeq int64

	// ctrl carries replies to client requests (SUBSCRIBE acks, pongs).
	ctrl chan []byte
}

func newClient(conn *websocket.Conn, hub *Hub, sub *Subscriber, sinceSeq int64, hasSince bool) *Client {
	c := &Client{
		conn: conn,
		hub:  hub,
		sub:  sub,
		ctrl: make(chan []byte, 16),
	}
	c.initial = append(c.initial, encodeWelcome(hub.Count(), hub.Seq(), time.Now()))
	if hasSince {
		for _, m := range hub.Since(sinceSeq) {
			c.initial = append(c.initial, m.Data)
			c.lastSeq = m.Seq
		}
	}
	return c
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, msg := range c.initial {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.Unsubscribe(c.sub)
			return
		}
	}
	c.initial = nil

	for {
		select {
		case <-c.sub.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return
		case msg := <-c.sub.C():
			if msg.Seq <= c.lastSeq {
				continue
			}
			c.lastSeq = msg.Seq
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				c.hub.Unsubscribe(c.sub)
				return
			}
		case msg := <-c.ctrl:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.Unsubscribe(c.sub)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unsubscribe(c.sub)
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer c.hub.Unsubscribe(c.sub)

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[hub] client %s read error: %v", c.sub.Name(), err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var base struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if json.Unmarshal(raw, &base) != nil {
		c.reply(reply{Type: "error", Message: "invalid JSON"})
		return
	}

	switch strings.ToUpper(base.Type) {
	case "SUBSCRIBE":
		var msg SubscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(reply{Type: "error", Message: "invalid SUBSCRIBE: " + err.Error()})
			return
		}
		f := msg.Filter.normalize()
		c.sub.SetFilter(f)
		log.Printf("[hub] client %s filter sources=%v symbols=%v timeframes=%v",
			c.sub.Name(), f.Sources, f.Symbols, f.Timeframes)
		c.reply(reply{Type: "subscribed", ReqID: msg.ReqID, Status: "ok", Filter: f})
	case "UNSUBSCRIBE":
		var msg SubscribeMsg
		json.Unmarshal(raw, &msg)
		c.sub.SetFilter(Filter{})
		c.reply(reply{Type: "unsubscribed", ReqID: msg.ReqID, Status: "ok"})
	case "PING", "":
		if base.Ping > 0 || base.Type != "" {
			c.reply(reply{Type: "pong", Ping: base.Ping, Server: time.Now().UnixMilli()})
			return
		}
		c.reply(reply{Type: "error", Message: "missing type"})
	default:
		c.reply(reply{Type: "error", Message: "unknown type " + base.Type})
	}
}

func (c *Client) reply(r reply) {
	select {
	case c.ctrl <- encodeReply(r):
	default:
	}
}
