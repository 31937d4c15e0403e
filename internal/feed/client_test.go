package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestClientReconnects
func TestClientReconnects(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := dials.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","n":`+string(rune('0'+n))+`}`))
		// drop the connection to force a reconnect
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), Options{ReconnectBackoff: 10 * time.Millisecond}, zap.NewNop())
	got := make(chan string, 16)
	c.SetMessageHandler(func(msg []byte) { got <- string(msg) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"type":"trade","n":1}`, <-got)
	assert.Equal(t, `{"type":"trade","n":2}`, <-got)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// go test -v --run TestClientDialFailureRetries
func TestClientDialFailureRetries(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", Options{ReconnectBackoff: 5 * time.Millisecond, HandshakeTimeout: 50 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	c.Run(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
