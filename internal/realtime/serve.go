package realtime

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
	maxReadBytes = 512
)

// Handler upgrades requests to websocket connections fed by h. Clients may
// pass ?event_id= to follow one event. allowed lists permitted origins;
// allowAll skips the origin check.
func Handler(h *Hub, allowed []string, allowAll bool) http.HandlerFunc {
	upgr := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowed, allowAll),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := h.join(r.URL.Query().Get("event_id"))
		if !ok {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			h.leave(c)
			h.logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		go write(wc, c)
		if err := read(wc); err != nil {
			h.logger.Debug().Err(err).Msg("websocket read failed")
		}
		h.leave(c)
	}
}

// read discards client frames; it exists to process control frames and
// notice the disconnect.
func read(wc *websocket.Conn) error {
	wc.SetReadLimit(maxReadBytes)
	_ = wc.SetReadDeadline(time.Now().Add(pongTimeout))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := wc.NextReader(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
	}
}

func write(wc *websocket.Conn, c *client) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer wc.Close()
	for {
		select {
		case msg, ok := <-c.send:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := wc.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-t.C:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string, allowAll bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimRight(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}
