package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hw3579/trading-bot/internal/metrics"
	"github.com/hw3579/trading-bot/internal/model"
)

type pushEnvelope struct {
	Type          string       `json:"type"`
	SchemaVersion int          `json:"schema_version"`
	Seq           int64        `json:"seq"`
	Data          model.Signal `json:"data"`
}

var candleBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sig(source string, i int) *model.Signal {
	id := model.TargetID{Source: source, Symbol: "BTC-USDT", Timeframe: "15m"}
	ts := candleBase.Add(time.Duration(i) * 15 * time.Minute)
	return model.NewSignal(id, model.KindBuy, ts, 64000+float64(i), "utbot", nil, time.Now())
}

func newTestHub(t *testing.T, cfg Config) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return NewHub(cfg, m), m
}

func recv(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case m := <-sub.C():
		return m
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s: no message", sub.Name())
		return Message{}
	}
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	h, m := newTestHub(t, Config{})
	subs := []*Subscriber{
		h.Subscribe("a", Filter{}),
		h.Subscribe("b", Filter{}),
		h.Subscribe("c", Filter{}),
	}
	assert.Equal(t, 3, h.Count())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HubSubscribers))

	s := sig("okx", 1)
	h.Publish(s)

	for _, sub := range subs {
		msg := recv(t, sub)
		assert.Equal(t, int64(1), msg.Seq)
		assert.Same(t, s, msg.Signal)

		var env pushEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, "signal", env.Type)
		assert.Equal(t, model.SchemaVersion, env.SchemaVersion)
		assert.Equal(t, int64(1), env.Seq)
		assert.Equal(t, s.ID, env.Data.ID)
	}
}

func TestHub_DropOldest(t *testing.T) {
	h, m := newTestHub(t, Config{BufferSize: 2})
	sub := h.Subscribe("slow", Filter{})

	for i := 1; i <= 3; i++ {
		h.Publish(sig("okx", i))
	}

	assert.Equal(t, int64(1), sub.Drops())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubDropsTotal.WithLabelValues("slow")))
	assert.Equal(t, int64(2), recv(t, sub).Seq)
	assert.Equal(t, int64(3), recv(t, sub).Seq)
	assert.Equal(t, 1, h.Count(), "drop_oldest keeps the subscriber")
}

func TestHub_DisconnectPolicy(t *testing.T) {
	h, m := newTestHub(t, Config{BufferSize: 1, OverflowPolicy: Disconnect})
	slow := h.Subscribe("slow", Filter{})
	fast := h.Subscribe("fast", Filter{})

	h.Publish(sig("okx", 1))
	assert.Equal(t, int64(1), recv(t, fast).Seq)

	h.Publish(sig("okx", 2))
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber should be closed")
	}
	assert.Equal(t, 1, h.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubDisconnects))

	// Delivery to the remaining subscriber continues.
	assert.Equal(t, int64(2), recv(t, fast).Seq)
	h.Publish(sig("okx", 3))
	assert.Equal(t, int64(3), recv(t, fast).Seq)
}

func TestHub_Filter(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	okx := h.Subscribe("okx-only", Filter{Sources: []string{"OKX"}})
	all := h.Subscribe("all", Filter{})

	h.Publish(sig("binance", 1))
	h.Publish(sig("okx", 2))

	assert.Equal(t, int64(2), recv(t, okx).Seq)
	assert.Equal(t, int64(1), recv(t, all).Seq)
	assert.Equal(t, int64(2), recv(t, all).Seq)

	okx.SetFilter(Filter{Timeframes: []string{"1h"}})
	h.Publish(sig("okx", 3))
	select {
	case msg := <-okx.C():
		t.Fatalf("unexpected message %d after filter change", msg.Seq)
	default:
	}
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Sources: []string{" okx ", "okx", ""}, Symbols: []string{""}}.normalize()
	assert.Equal(t, []string{"okx"}, f.Sources)
	assert.Nil(t, f.Symbols)
	assert.False(t, f.Empty())
	assert.True(t, Filter{}.Empty())
}

func TestHub_SinceAndRecent(t *testing.T) {
	h, _ := newTestHub(t, Config{HistorySize: 3})
	for i := 1; i <= 5; i++ {
		h.Publish(sig("okx", i))
	}

	since := h.Since(3)
	require.Len(t, since, 2)
	assert.Equal(t, int64(4), since[0].Seq)
	assert.Equal(t, int64(5), since[1].Seq)

	// Older than the history window: only what is buffered.
	assert.Len(t, h.Since(0), 3)

	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CandleTS.After(recent[1].CandleTS), "newest first")
	assert.Equal(t, int64(5), h.Seq())
}

func TestHub_Close(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	sub := h.Subscribe("a", Filter{})
	h.Close()

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscriber not closed")
	}
	assert.Equal(t, 0, h.Count())

	h.Publish(sig("okx", 1))
	assert.Equal(t, int64(0), h.Seq(), "publish after close is ignored")

	late := h.Subscribe("late", Filter{})
	select {
	case <-late.Done():
	default:
		t.Fatal("subscribe after close should return a closed subscriber")
	}
	h.Close()
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)
	p, err = ParseOverflowPolicy("disconnect")
	require.NoError(t, err)
	assert.Equal(t, Disconnect, p)
	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}

// ── websocket transport ──

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func newWSServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeWS_WelcomeReplayAndFilter(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	srv := newWSServer(t, h)

	h.Publish(sig("okx", 1))
	h.Publish(sig("okx", 2))

	conn := dial(t, srv, "?since_seq=1")

	var w Welcome
	readJSON(t, conn, &w)
	assert.Equal(t, "welcome", w.Type)
	assert.Equal(t, model.SchemaVersion, w.SchemaVersion)
	assert.Equal(t, int64(2), w.Seq)
	assert.Equal(t, 1, w.Subscribers)

	var env pushEnvelope
	readJSON(t, conn, &env)
	assert.Equal(t, int64(2), env.Seq, "replay starts after since_seq")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "SUBSCRIBE", "req_id": "r1", "sources": []string{"binance"},
	}))
	var ack struct {
		Type   string `json:"type"`
		ReqID  string `json:"req_id"`
		Status string `json:"status"`
	}
	readJSON(t, conn, &ack)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "r1", ack.ReqID)

	h.Publish(sig("okx", 3))
	h.Publish(sig("binance", 4))
	readJSON(t, conn, &env)
	assert.Equal(t, int64(4), env.Seq)
	assert.Equal(t, "binance", env.Data.Source)
}

func TestServeWS_InvalidSince(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	srv := newWSServer(t, h)

	resp, err := http.Get(srv.URL + "/ws?since_seq=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeWS_DisconnectDoesNotBreakOthers(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	srv := newWSServer(t, h)

	conns := []*websocket.Conn{dial(t, srv, ""), dial(t, srv, ""), dial(t, srv, "")}
	for _, c := range conns {
		var w Welcome
		readJSON(t, c, &w)
	}
	require.Equal(t, 3, h.Count())

	conns[1].Close()
	require.Eventually(t, func() bool { return h.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(sig("okx", 1))
	for _, c := range []*websocket.Conn{conns[0], conns[2]} {
		var env pushEnvelope
		readJSON(t, c, &env)
		assert.Equal(t, int64(1), env.Seq)
	}
}

func TestServeWS_CloseSendsCloseFrame(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	srv := newWSServer(t, h)
	conn := dial(t, srv, "")
	var w Welcome
	readJSON(t, conn, &w)

	h.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	srv := newWSServer(t, h)
	h.Publish(sig("okx", 1))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rep HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, int64(1), rep.Seq)
	assert.Equal(t, 1, rep.Latency[StageDetect].All.Samples)
	assert.Equal(t, 1, rep.Latency[StageFanout].ByTimeframe["15m"].Samples)
	assert.Empty(t, rep.Hub.Subscribers)
}

func TestHub_StatsReportsQueueDepth(t *testing.T) {
	h, _ := newTestHub(t, Config{BufferSize: 2})
	slow := h.Subscribe("slow", Filter{})
	h.Subscribe("idle", Filter{Sources: []string{"binance"}})
	for i := 0; i < 5; i++ {
		h.Publish(sig("okx", i))
	}

	st := h.Stats()
	require.Len(t, st.Subscribers, 2)
	assert.Equal(t, "idle", st.Subscribers[0].Name)
	assert.Equal(t, 0, st.Subscribers[0].Queued)
	assert.Equal(t, "slow", st.Subscribers[1].Name)
	assert.Equal(t, 2, st.Subscribers[1].Queued)
	assert.Equal(t, 2, st.MaxQueued)
	assert.Equal(t, slow.Drops(), st.TotalDrops)
	assert.EqualValues(t, 3, st.TotalDrops)
	assert.Positive(t, st.Goroutines)
}

// ── sinks ──

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []string
	wait time.Duration
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, sig *model.Signal) error {
	if s.wait > 0 {
		time.Sleep(s.wait)
	}
	s.mu.Lock()
	s.got = append(s.got, sig.ID)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestSinkRunner_DeliversInOrder(t *testing.T) {
	h, m := newTestHub(t, Config{})
	good := &recordingSink{name: "journal"}
	bad := &recordingSink{name: "chat", err: errors.New("429")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runners := []*SinkRunner{h.AttachSink(good, time.Second), h.AttachSink(bad, time.Second)}
	for _, r := range runners {
		go r.Run(ctx)
	}

	var want []string
	for i := 1; i <= 3; i++ {
		s := sig("okx", i)
		want = append(want, s.ID)
		h.Publish(s)
	}

	require.Eventually(t, func() bool { return len(good.ids()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, good.ids())
	require.Eventually(t, func() bool { return len(bad.ids()) == 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SinkErrors.WithLabelValues("chat")) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	for _, r := range runners {
		r.Wait()
	}
	assert.Equal(t, 0, h.Count())
}

func TestSinkRunner_FlushesOnClose(t *testing.T) {
	h, _ := newTestHub(t, Config{})
	slow := &recordingSink{name: "slow", wait: 20 * time.Millisecond}
	r := h.AttachSink(slow, time.Second)

	for i := 1; i <= 4; i++ {
		h.Publish(sig("okx", i))
	}
	h.Close()

	go r.Run(context.Background())
	r.Wait()
	assert.Len(t, slow.ids(), 4, "queued signals are delivered after close")
}
