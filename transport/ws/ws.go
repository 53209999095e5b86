// Package ws carries the peer protocol over websocket connections. Every
// frame is one JSON message envelope.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = pongWait * 9 / 10
)

type Config struct {
	ReadLimit        int64         `env:"READ_LIMIT"        envDefault:"67108864"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	OutboxSize       int           `env:"OUTBOX_SIZE"       envDefault:"64"`
}

var _ http.Handler = (*Handler)(nil)

// Handler upgrades peer connections and bridges them to the hub.
type Handler struct {
	svc      hub.Service
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(svc hub.Service, cfg Config, logger *slog.Logger) *Handler {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	return &Handler{
		svc: svc,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			// Peers are mobile apps, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade peer connection", slog.String("remote", r.RemoteAddr), slog.Any("error", err))

		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	ctx := r.Context()
	peerID, err := h.handshake(conn)
	if err != nil {
		h.logger.Warn("peer handshake failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		h.reject(conn, err)

		return
	}

	out := session.NewOutbox(peerID, h.cfg.OutboxSize, writer(conn), conn.Close, h.logger)
	if err := h.svc.Connect(ctx, peerID, out); err != nil {
		h.logger.Warn("failed to connect peer", slog.String("peer_id", peerID), slog.Any("error", err))
		_ = out.Close()

		return
	}

	done := make(chan struct{})
	go ping(conn, done)

	h.read(ctx, conn, peerID)
	close(done)

	if err := h.svc.Disconnect(context.WithoutCancel(ctx), peerID, out); err != nil && !errors.Is(err, pkgerrors.ErrPeerNotFound) {
		h.logger.Warn("failed to disconnect peer", slog.String("peer_id", peerID), slog.Any("error", err))
	}
	_ = out.Close()
}

// handshake reads the register message that must open every connection.
func (h *Handler) handshake(conn *websocket.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return "", err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	msg, err := message.Parse(data)
	if err != nil {
		return "", err
	}
	if msg.Type != message.Register {
		return "", ErrNotRegister
	}
	if msg.ClientID == "" {
		return "", pkgerrors.ErrEmptyKey
	}

	return msg.ClientID, nil
}

func (h *Handler) reject(conn *websocket.Conn, cause error) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(message.Message{
		Type:   message.RegisterAck,
		Status: message.StatusFailure,
		Error:  cause.Error(),
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "registration required"),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

func (h *Handler) read(ctx context.Context, conn *websocket.Conn, peerID string) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("peer connection lost", slog.String("peer_id", peerID), slog.Any("error", err))
			}

			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := message.Parse(data)
		if err != nil {
			h.logger.Warn("dropping malformed message", slog.String("peer_id", peerID), slog.Any("error", err))

			continue
		}

		switch err := h.svc.Receive(ctx, peerID, msg); {
		case err == nil:
		case errors.Is(err, pkgerrors.ErrNotRegistered):
			// The session was swept or replaced by a newer connection.
			return
		default:
			h.logger.Warn("failed to receive message", slog.String("peer_id", peerID), slog.Any("error", err))
		}
	}
}

func writer(conn *websocket.Conn) session.WriteFunc {
	return func(_ context.Context, msg message.Message) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}

		return conn.WriteJSON(msg)
	}
}

func ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
