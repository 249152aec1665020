package query

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hw3579/trading-bot/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Request is one query over the websocket channel.
type Request struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Source    string `json:"source"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int    `json:"count"`
}

// Reply answers one Request.
type Reply struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"` // ok | error
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	MethodGetStatus       = "GetStatus"
	MethodGetRecentSeries = "GetRecentSeries"
	MethodGetLastSignal   = "GetLastSignal"
	MethodListTargets     = "ListTargets"
	MethodRecentSignals   = "RecentSignals"
)

// ServeWS upgrades the request and answers queries until the peer leaves.
// Replies and keepalive pings share one writer goroutine.
func (h *Handler) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[query] ws upgrade error: %v", err)
		return nil
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	replies := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, replies)
	}()
	defer func() {
		close(replies)
		<-writerDone
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[query] ws read error: %v", err)
			}
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(h.pongWait))

		out, _ := json.Marshal(h.Handle(raw))
		select {
		case replies <- out:
		case <-writerDone:
			return nil
		}
	}
}

// writePump sends replies in order and pings the peer every pingPeriod. A
// failed write closes the connection, which ends the read loop.
func (h *Handler) writePump(conn *websocket.Conn, replies <-chan []byte) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// Handle answers one raw message: a JSON Request or a text command.
func (h *Handler) Handle(raw []byte) Reply {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "/") {
		req, err := ParseCommand(text)
		if err != nil {
			return Reply{Status: "error", Message: err.Error()}
		}
		return h.Dispatch(req)
	}

	var req Request
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return Reply{Status: "error", Message: "invalid JSON request"}
	}
	return h.Dispatch(req)
}

// Dispatch runs req against the service.
func (h *Handler) Dispatch(req Request) Reply {
	fail := func(err error) Reply {
		return Reply{ID: req.ID, Status: "error", Message: err.Error()}
	}
	ok := func(data any) Reply {
		return Reply{ID: req.ID, Status: "ok", Data: data}
	}

	switch req.Method {
	case MethodListTargets:
		return ok(h.svc.ListTargets())
	case MethodRecentSignals:
		return ok(h.svc.RecentSignals(req.Count))
	case MethodGetStatus, MethodGetRecentSeries, MethodGetLastSignal:
	default:
		return fail(fmt.Errorf("unknown method %q", req.Method))
	}

	id, err := req.target()
	if err != nil {
		return fail(err)
	}
	switch req.Method {
	case MethodGetStatus:
		st, err := h.svc.GetStatus(id)
		if err != nil {
			return fail(err)
		}
		return ok(st)
	case MethodGetRecentSeries:
		candles, err := h.svc.GetRecentSeries(id, req.Count)
		if err != nil {
			return fail(err)
		}
		return ok(candles)
	default:
		sig, err := h.svc.GetLastSignal(id)
		if err != nil {
			return fail(err)
		}
		return ok(sig)
	}
}

func (r Request) target() (model.TargetID, error) {
	if r.Source == "" || r.Symbol == "" {
		return model.TargetID{}, fmt.Errorf("source and symbol are required")
	}
	tf, err := model.ParseTimeframe(r.Timeframe)
	if err != nil {
		return model.TargetID{}, err
	}
	return model.TargetID{Source: strings.ToLower(r.Source), Symbol: r.Symbol, Timeframe: tf}, nil
}

// ParseCommand parses the text forms
//
//	/<source> <symbol> <timeframe> [count]
//	/status <source> <symbol> <timeframe>
//	/signal <source> <symbol> <timeframe>
//	/targets
func ParseCommand(text string) (Request, error) {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return Request{}, fmt.Errorf("command must start with /")
	}
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]

	switch cmd {
	case "targets":
		return Request{Method: MethodListTargets}, nil
	case "status", "signal":
		if len(args) != 3 {
			return Request{}, fmt.Errorf("usage: /%s <source> <symbol> <timeframe>", cmd)
		}
		method := MethodGetStatus
		if cmd == "signal" {
			method = MethodGetLastSignal
		}
		return Request{
			Method:    method,
			Source:    args[0],
			Symbol:    strings.ToUpper(args[1]),
			Timeframe: args[2],
		}, nil
	case "":
		return Request{}, fmt.Errorf("empty command")
	}

	if len(args) < 2 || len(args) > 3 {
		return Request{}, fmt.Errorf("usage: /<source> <symbol> <timeframe> [count]")
	}
	req := Request{
		Method:    MethodGetRecentSeries,
		Source:    cmd,
		Symbol:    strings.ToUpper(args[0]),
		Timeframe: args[1],
	}
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return Request{}, fmt.Errorf("invalid count %q", args[2])
		}
		req.Count = n
	}
	return req, nil
}
