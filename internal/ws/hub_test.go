package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-automations/internal/models"
	"whatsapp-automations/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotifyRun_ReachesOwnerOnly(t *testing.T) {
	hub := NewHub(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	owner := dial(t, srv, "?userId=u1")
	stranger := dial(t, srv, "?userId=u2")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 2
	}, time.Second, 10*time.Millisecond)

	hub.NotifyRun(&models.Run{ID: "run-1", AutomationID: "a1", UserID: "u1", Status: models.RunWaitingReply})

	require.NoError(t, owner.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := owner.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, EventRunUpdate, gjson.GetBytes(msg, "type").String())
	assert.Equal(t, "run-1", gjson.GetBytes(msg, "data.id").String())
	assert.Equal(t, "WAITING_REPLY", gjson.GetBytes(msg, "data.status").String())

	require.NoError(t, stranger.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = stranger.ReadMessage()
	assert.Error(t, err)
}

func httpHandler(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWs)
	return mux
}

func TestServeWs_RejectsSocketWithoutUser(t *testing.T) {
	hub := NewHub(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.clients)
}

func TestHub_ShutdownReleasesSockets(t *testing.T) {
	hub := NewHub(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	open := dial(t, srv, "?userId=u1")
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-stopped

	require.NoError(t, open.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := open.ReadMessage()
	assert.Error(t, err)

	late := dial(t, srv, "?userId=u1")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}
