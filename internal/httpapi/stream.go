package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"donorlink.org/internal/obs"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// handleRealtime upgrades to a websocket and forwards the caller's push
// envelopes until either side goes away.
func (a *API) handleRealtime(w http.ResponseWriter, r *http.Request) {
	p, ok := ensureRole(w, r)
	if !ok {
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.Logger().WarnContext(r.Context(), "push_event", "event", "upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := a.svc.Subscribe(ctx, p.UserID)
	obs.Logger().InfoContext(ctx, "push_event", "event", "connected", "user_id", p.UserID, "role", p.Role.String())

	// Reading drives pong and close handling.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			obs.Logger().Info("push_event", "event", "disconnected", "user_id", p.UserID)
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				obs.Logger().Warn("push_event", "event", "write_failed", "user_id", p.UserID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
