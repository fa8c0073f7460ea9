package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/lanlink/internal/adapters/rtc"
	"github.com/dkeye/lanlink/internal/app"
	"github.com/dkeye/lanlink/internal/app/orch"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, opts Options) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := orch.New(nil)
	h := app.NewHost(context.Background(), app.Options{
		ID:       "h1",
		Identity: domain.Identity{Name: "Alice"},
		Peers:    rtc.NewFactory(rtc.Options{}),
		Notifier: o,
	})
	o.Bind(h)
	t.Cleanup(h.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ctl := NewSignalWSController(o, opts)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "test-client")
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// expect reads frames until one of type typ arrives, skipping events.
func expect(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestSignal_PingAndWhoAmI(t *testing.T) {
	ws := newServer(t, Options{})

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	expect(t, ws, "pong")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "whoami"}))
	msg := expect(t, ws, "whoami")
	host := msg["host"].(map[string]any)
	assert.Equal(t, "h1", host["id"])
	assert.Equal(t, "Alice", host["name"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "rename", "name": "Bob"}))
	msg = expect(t, ws, "whoami")
	assert.Equal(t, "Bob", msg["host"].(map[string]any)["name"])
}

func TestSignal_SessionLifecycle(t *testing.T) {
	ws := newServer(t, Options{})

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "create", "session": "s1"}))
	expect(t, ws, "created")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "initiate", "session": "s1"}))
	offer := expect(t, ws, "offer")
	assert.Equal(t, "s1", offer["session"])
	assert.Equal(t, "offer", offer["sdpType"])
	assert.Contains(t, offer["sdp"], "v=0")

	// Session changes are streamed as events.
	ev := expect(t, ws, "event")
	assert.Equal(t, "s1", ev["session"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "sessions"}))
	sessions := expect(t, ws, "sessions")
	assert.EqualValues(t, 1, sessions["count"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "drop", "session": "s1"}))
	expect(t, ws, "dropped")
}

func TestSignal_Errors(t *testing.T) {
	ws := newServer(t, Options{})

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "bad_json", expect(t, ws, "error")["error"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "teleport"}))
	assert.Equal(t, "unknown_type", expect(t, ws, "error")["error"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "initiate", "session": "missing"}))
	assert.Contains(t, expect(t, ws, "error")["error"], "unknown session")
}

func TestSignal_RateLimited(t *testing.T) {
	ws := newServer(t, Options{CommandLimit: 2, CommandWindow: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	}
	expect(t, ws, "pong")
	expect(t, ws, "pong")
	assert.Equal(t, "rate_limited", expect(t, ws, "error")["error"])
}

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_ForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(5, 20*time.Millisecond)
	for _, client := range []string{"a", "b", "c"} {
		assert.True(t, rl.Allow(client))
	}
	assert.Equal(t, 3, rl.Len())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("d"))
	assert.Equal(t, 1, rl.Len())
}
