package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Serve(r.Context(), h, ws, time.Minute, time.Second)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readCount(t *testing.T, ws *websocket.Conn) int64 {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	require.NoError(t, ws.ReadJSON(&m))
	return m.Count
}

func TestServe_SeedThenUpdates(t *testing.T) {
	h := NewHub(func() int64 { return 10 }, 0)
	defer h.Close()
	srv := newWSServer(t, h)

	ws := dial(t, srv)
	assert.EqualValues(t, 10, readCount(t, ws))

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(11)
	assert.EqualValues(t, 11, readCount(t, ws))
}

func TestServe_DisconnectUnregisters(t *testing.T) {
	h := NewHub(func() int64 { return 0 }, 0)
	defer h.Close()
	srv := newWSServer(t, h)

	ws := dial(t, srv)
	readCount(t, ws)
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = ws.Close()

	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_ContextCancelUnregisters(t *testing.T) {
	h := NewHub(func() int64 { return 0 }, 0)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Serve(ctx, h, ws, time.Minute, time.Second)
	}))
	defer srv.Close()

	ws := dial(t, srv)
	readCount(t, ws)
	cancel()
	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
