package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	wc, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { wc.Close() })
	return wc
}

func readMessage(t *testing.T, wc *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := wc.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsNotices(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(Handler(hub, nil, true))
	defer srv.Close()

	all := dial(t, srv, "")
	onlyE2 := dial(t, srv, "?event_id=e2")
	require.Equal(t, 2, hub.Clients())

	pos := 3
	hub.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeWaitlisted, EventID: "e1", RecordID: "r1", SubjectID: "u1", Position: &pos})
	hub.Notify(context.Background(), registrations.Notice{Type: registrations.NoticePromoted, EventID: "e2", RecordID: "r2"})

	msg := readMessage(t, all)
	require.Equal(t, registrations.NoticeWaitlisted, msg.Type)
	require.Equal(t, "r1", msg.RecordID)
	require.Equal(t, 3, *msg.Position)
	require.Equal(t, "e2", readMessage(t, all).EventID)

	msg = readMessage(t, onlyE2)
	require.Equal(t, Message{Type: registrations.NoticePromoted, EventID: "e2", RecordID: "r2"}, msg)
}

func TestHubNoticeOmitsSubject(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(Handler(hub, nil, true))
	defer srv.Close()
	wc := dial(t, srv, "")

	hub.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed, EventID: "e1", RecordID: "r1", SubjectID: "secret"})
	require.NoError(t, wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := wc.ReadMessage()
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret")
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c, ok := hub.join("")
	require.True(t, ok)

	for i := 0; i <= sendBuffer; i++ {
		hub.Notify(context.Background(), registrations.Notice{Type: registrations.NoticeConfirmed, EventID: "e1"})
	}
	require.Zero(t, hub.Clients())

	n := 0
	for range c.send {
		n++
	}
	require.Equal(t, sendBuffer, n, "buffered messages stay readable after the drop")
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(Handler(hub, nil, true))
	defer srv.Close()

	wc := dial(t, srv, "")
	hub.Close()
	require.NoError(t, wc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := wc.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.org/"}, false)
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.example.org/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	require.True(t, check(req("")))
	require.True(t, check(req("https://app.example.org")))
	require.True(t, check(req("http://api.example.org")), "same host")
	require.False(t, check(req("https://evil.example.com")))
	require.True(t, originChecker(nil, true)(req("https://evil.example.com")))
}
