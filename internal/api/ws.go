package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StatusSocket streams status frames to one subscriber until it disconnects.
func (h *Handler) StatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID := uuid.NewString()
	log := h.log.With("subscriber_id", subID)
	log.InfoContext(r.Context(), "status subscriber connected")

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	// Incoming frames are ignored; a read error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = h.status.Run(ctx, func(_ context.Context, frame model.StatusFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		log.InfoContext(r.Context(), "status subscriber dropped", "error", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	log.InfoContext(r.Context(), "status subscriber disconnected")
}
