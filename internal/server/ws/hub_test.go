package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

type memBus struct {
	mu     sync.Mutex
	subs   map[string]chan []byte
	recent map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string]chan []byte), recent: make(map[string][][]byte)}
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *memBus) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent[channel], nil
}

func (b *memBus) subscribed(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == n
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHubStatusBacklogAndLiveEvents(t *testing.T) {
	bus := newMemBus()
	bus.recent[domain.ChannelVerdicts] = [][]byte{[]byte(`{"type":"exit_verdict","key":"p-1"}`)}

	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:    "Full",
		Backlog: 10,
		Status: func(context.Context) domain.EngineStatus {
			return domain.EngineStatus{OpenPositions: 3, SymbolGroups: 2}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribed(len(Channels)) }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readFrame(t, conn)
	assert.Equal(t, "engine_status", status.Type)
	var st domain.EngineStatus
	require.NoError(t, json.Unmarshal(status.Payload, &st))
	assert.Equal(t, "full", st.Mode)
	assert.Equal(t, 3, st.OpenPositions)

	backlog := readFrame(t, conn)
	assert.Equal(t, domain.ChannelVerdicts, backlog.Channel)
	assert.JSONEq(t, `{"type":"exit_verdict","key":"p-1"}`, string(backlog.Data))

	require.NoError(t, bus.Publish(ctx, domain.ChannelDecisions, []byte(`{"type":"governor_decision"}`)))
	live := readFrame(t, conn)
	assert.Equal(t, domain.ChannelDecisions, live.Channel)
}

func TestWrapQuotesNonJSON(t *testing.T) {
	out, err := wrap("risk:decisions", []byte("plain text"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"risk:decisions","data":"plain text"}`, string(out))
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{}}
	c.apply(controlMsg{Action: "subscribe", Channels: []string{"risk:*"}})
	assert.True(t, c.isSubscribed(domain.ChannelDecisions))
	assert.False(t, c.isSubscribed(domain.ChannelVerdicts))

	c.apply(controlMsg{Action: "unsubscribe", Channels: []string{"risk:*"}})
	assert.False(t, c.isSubscribed(domain.ChannelSnapshots))
}
