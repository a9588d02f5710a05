package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	dErrors "nexus/pkg/domain-errors"
	"nexus/pkg/platform/httputil"
	"nexus/pkg/requestcontext"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message is what a browser viewer receives for each signal.
type Message struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id"`
	Reason    Reason `json:"reason"`
	At        string `json:"at"`
}

// WebSocketHandler streams invalidation signals for the caller's active
// tenant. The subscription lives exactly as long as the connection.
type WebSocketHandler struct {
	bus      Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(bus Bus, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := requestcontext.TenantID(r.Context())
	if tenant.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant context required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Hijacked connections outlive the request context's usual lifetime, so
	// the subscription is tied to the read pump instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sub, err := h.bus.Subscribe(ctx, tenant)
	if err != nil {
		h.logger.WarnContext(ctx, "transfer notification subscribe failed",
			"error", &NotificationError{Op: "subscribe", TenantID: tenant, Err: err},
		)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "notifications unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub)
}

// readPump discards client frames and cancels ctx once the peer goes away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case sig, ok := <-sub.Signals():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := Message{
				Type:      "invalidate",
				TenantID:  sig.TenantID.String(),
				RequestID: sig.RequestID.String(),
				Reason:    sig.Reason,
				At:        sig.At.UTC().Format(time.RFC3339Nano),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
