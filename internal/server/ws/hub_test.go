package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/cyphercast/internal/cache/memory"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type hubFixture struct {
	hub     *Hub
	bus     *memory.SignalBus
	srv     *httptest.Server
	cancel  context.CancelFunc
	done    chan error
	clients atomic.Int64
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{bus: memory.NewSignalBus(), done: make(chan error, 1)}
	f.hub = NewHub(f.bus, func(n int) { f.clients.Store(int64(n)) }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.hub.Run(ctx) }()

	f.srv = httptest.NewServer(http.HandlerFunc(f.hub.HandleWS))
	t.Cleanup(func() {
		f.cancel()
		<-f.done
		f.srv.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	before := f.clients.Load()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.clients.Load() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func (f *hubFixture) publish(t *testing.T, ev domain.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	channel := "events:community"
	if !ev.Stream.IsZero() {
		channel = "events:" + ev.Stream.Hex()
	}
	require.NoError(t, f.bus.Publish(context.Background(), channel, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubDeliversAllEventsByDefault(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")

	f.publish(t, domain.StreamEvent(domain.EventStreamCreated, domain.Address{1}))
	f.publish(t, domain.Event{Type: domain.EventCommunityContribution, Amount: 5})

	assert.Equal(t, domain.EventStreamCreated, readEvent(t, conn).Type)
	assert.Equal(t, domain.EventCommunityContribution, readEvent(t, conn).Type)
}

func TestHubFiltersByStream(t *testing.T) {
	f := newHubFixture(t)
	watched := domain.Address{0xaa}
	conn := f.dial(t, "?stream="+watched.Hex())

	f.publish(t, domain.StreamEvent(domain.EventStreamCreated, domain.Address{0xbb}))
	f.publish(t, domain.StreamEvent(domain.EventStreamEnded, watched))

	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventStreamEnded, ev.Type)
	assert.Equal(t, watched, ev.Stream)
}

func TestHubControlMessages(t *testing.T) {
	f := newHubFixture(t)
	a, b := domain.Address{0x0a}, domain.Address{0x0b}
	conn := f.dial(t, "?stream="+a.Hex())

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "subscribe", Streams: []string{b.Hex()}}))
	require.NoError(t, conn.WriteJSON(controlMsg{Action: "unsubscribe", Streams: []string{a.Hex()}}))

	received := make(chan []byte, 64)
	go func() {
		defer close(received)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}()

	// Control messages are applied asynchronously; publish until b arrives.
	var got []byte
	require.Eventually(t, func() bool {
		f.publish(t, domain.StreamEvent(domain.EventStreamEnded, b))
		select {
		case got = <-received:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(got), b.Hex())
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")

	f.cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
