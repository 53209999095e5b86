// Package mqtt carries the peer protocol over an MQTT broker. Each peer
// publishes on <prefix>/peers/<id>/up, reports liveness on
// <prefix>/peers/<id>/status and receives on <prefix>/peers/<id>/down.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	pubsub "github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/fedmob/session"
)

const (
	upTopic     = "up"
	downTopic   = "down"
	statusTopic = "status"

	// StatusOffline is the status payload, usually a last will, that ends
	// a peer's session.
	StatusOffline = "offline"
)

type Config struct {
	Prefix     string `env:"TOPIC_PREFIX" envDefault:"fedmob"`
	OutboxSize int    `env:"OUTBOX_SIZE"  envDefault:"64"`
}

type Transport struct {
	svc    hub.Service
	ps     pubsub.PubSub
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*session.Outbox
}

func New(svc hub.Service, ps pubsub.PubSub, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Prefix == "" {
		cfg.Prefix = "fedmob"
	}

	return &Transport{
		svc:    svc,
		ps:     ps,
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*session.Outbox),
	}
}

// Subscribe starts consuming peer traffic.
func (t *Transport) Subscribe(ctx context.Context) error {
	if err := t.ps.Subscribe(ctx, t.wildcard(upTopic), t.handle(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to peer messages: %w", err)
	}
	if err := t.ps.Subscribe(ctx, t.wildcard(statusTopic), t.handle(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to peer status: %w", err)
	}

	return nil
}

// Close unsubscribes and closes every peer outbox.
func (t *Transport) Close(ctx context.Context) error {
	errs := errors.Join(
		t.ps.Unsubscribe(ctx, t.wildcard(upTopic)),
		t.ps.Unsubscribe(ctx, t.wildcard(statusTopic)),
	)

	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*session.Outbox)
	t.mu.Unlock()

	for _, c := range conns {
		errs = errors.Join(errs, c.Close())
	}

	return errs
}

func (t *Transport) handle(ctx context.Context) pubsub.Handler {
	return func(topic string, payload []byte) error {
		peerID, kind, ok := t.parse(topic)
		if !ok {
			return fmt.Errorf("unexpected topic %q", topic)
		}

		switch kind {
		case upTopic:
			msg, err := message.Parse(payload)
			if err != nil {
				return err
			}

			return t.receive(ctx, peerID, msg)
		case statusTopic:
			if strings.TrimSpace(string(payload)) != StatusOffline {
				return nil
			}

			return t.disconnect(ctx, peerID)
		default:
			return nil
		}
	}
}

func (t *Transport) receive(ctx context.Context, peerID string, msg message.Message) error {
	if msg.Type == message.Register {
		if msg.ClientID != "" && msg.ClientID != peerID {
			return t.reject(ctx, peerID, fmt.Sprintf("client_id %q does not match topic", msg.ClientID))
		}

		out := t.outbox(peerID)
		if err := t.svc.Connect(ctx, peerID, out); err != nil {
			_ = out.Close()

			return err
		}

		return nil
	}

	err := t.svc.Receive(ctx, peerID, msg)
	if errors.Is(err, pkgerrors.ErrNotRegistered) {
		return t.reject(ctx, peerID, err.Error())
	}

	return err
}

func (t *Transport) disconnect(ctx context.Context, peerID string) error {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	err := t.svc.Disconnect(ctx, peerID, conn)
	if errors.Is(err, pkgerrors.ErrPeerNotFound) {
		return nil
	}

	return err
}

// outbox returns a fresh connection for the peer. Any previous one is left
// for the hub to close when the new registration replaces it.
func (t *Transport) outbox(peerID string) *session.Outbox {
	topic := t.topic(peerID, downTopic)

	var out *session.Outbox
	write := func(ctx context.Context, msg message.Message) error {
		return t.ps.Publish(ctx, topic, msg)
	}
	closer := func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.conns[peerID] == out {
			delete(t.conns, peerID)
		}

		return nil
	}
	out = session.NewOutbox(peerID, t.cfg.OutboxSize, write, closer, t.logger)

	t.mu.Lock()
	t.conns[peerID] = out
	t.mu.Unlock()

	return out
}

func (t *Transport) reject(ctx context.Context, peerID, reason string) error {
	return t.ps.Publish(ctx, t.topic(peerID, downTopic), message.Message{
		Type:   message.RegisterAck,
		Status: message.StatusFailure,
		Error:  reason,
	})
}

func (t *Transport) wildcard(kind string) string {
	return t.topic("+", kind)
}

func (t *Transport) topic(peerID, kind string) string {
	return t.cfg.Prefix + "/peers/" + peerID + "/" + kind
}

func (t *Transport) parse(topic string) (peerID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.cfg.Prefix+"/peers/")
	if !found {
		return "", "", false
	}
	peerID, kind, found = strings.Cut(rest, "/")
	if !found || peerID == "" || strings.Contains(kind, "/") {
		return "", "", false
	}

	return peerID, kind, true
}
