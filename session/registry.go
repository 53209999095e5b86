// Package session tracks connected training peers and their round lifecycle.
//
// The registry owns every peer's connection handle. Other components refer to
// peers by id only, so a peer that disconnects mid-round leaves nothing dangling.
package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
)

const completedProgress = 100.0

type entry struct {
	sess Session
	conn Conn
}

// Registry maps peer ids to sessions. All operations are non-blocking and
// mark-style operations on unknown ids are no-ops.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
		logger:   logger,
	}
}

// Add registers a fresh session in the Ready state. A second registration
// under the same id replaces the first; the replaced connection is returned
// so the caller can close it.
func (r *Registry) Add(id string, conn Conn) Conn {
	now := r.now()

	r.mu.Lock()
	var prev Conn
	if e, ok := r.sessions[id]; ok {
		prev = e.conn
	}
	r.sessions[id] = &entry{
		sess: Session{
			ID:          id,
			State:       Ready,
			ConnectedAt: now,
			LastActive:  now,
		},
		conn: conn,
	}
	r.mu.Unlock()

	if prev != nil {
		r.logger.Warn("peer re-registered, replacing previous session", slog.String("peer_id", id))
	} else {
		r.logger.Info("peer session added", slog.String("peer_id", id))
	}

	return prev
}

// Remove deletes the session and returns its connection. It is a no-op if
// the id is unknown.
func (r *Registry) Remove(id string) (Conn, bool) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.logger.Info("peer session removed", slog.String("peer_id", id), slog.String("state", e.sess.State.String()))

	return e.conn, true
}

// RemoveConn removes the session only while conn is still its connection.
// Transports use it so a stale connection closing cannot evict a newer
// registration of the same peer.
func (r *Registry) RemoveConn(id string, conn Conn) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok && e.conn == conn {
		delete(r.sessions, id)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("peer session removed", slog.String("peer_id", id), slog.String("state", e.sess.State.String()))
	}

	return ok
}

// Touch refreshes the last-active timestamp.
func (r *Registry) Touch(id string) bool {
	return r.update(id, func(*Session) {})
}

// MarkActive records that a training run attached the peer.
func (r *Registry) MarkActive(id string) bool {
	return r.update(id, func(s *Session) {
		s.State = ActiveSession
	})
}

// MarkTraining records the start of round on the peer.
func (r *Registry) MarkTraining(id string, round int) bool {
	return r.update(id, func(s *Session) {
		s.State = Training
		s.Round = round
		s.Progress = 0
	})
}

// MarkCompleted records the end of the in-flight round. The peer goes back
// to ActiveSession to await the next round.
func (r *Registry) MarkCompleted(id string) bool {
	return r.update(id, func(s *Session) {
		s.State = ActiveSession
		s.Progress = completedProgress
	})
}

// ReleaseTraining moves a peer still training round back to ActiveSession.
// It reports whether the state changed.
func (r *Registry) ReleaseTraining(id string, round int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.sess.State != Training || e.sess.Round != round {
		return false
	}
	e.sess.State = ActiveSession
	e.sess.LastActive = r.now()

	return true
}

// MarkFinished records that the training run the peer was attached to ended.
func (r *Registry) MarkFinished(id string) bool {
	return r.update(id, func(s *Session) {
		s.State = Completed
	})
}

// MarkSessionEnded records that the training run detached from the peer.
func (r *Registry) MarkSessionEnded(id string) bool {
	return r.update(id, func(s *Session) {
		s.State = Ready
		s.Round = 0
		s.Progress = 0
	})
}

func (r *Registry) UpdateProgress(id string, progress float64) bool {
	return r.update(id, func(s *Session) {
		s.Progress = progress
	})
}

// SetParameters stores the latest weights reported by the peer.
func (r *Registry) SetParameters(id string, ts []weights.Tensor) bool {
	ts = weights.Clone(ts)

	return r.update(id, func(s *Session) {
		s.Parameters = ts
	})
}

func (r *Registry) update(id string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(&e.sess)
	e.sess.LastActive = r.now()

	return true
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	return copySession(e.sess), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// List returns copies of all sessions ordered by id.
func (r *Registry) List() []Session {
	return r.filter(func(Session) bool { return true })
}

// ListTraining returns sessions with a round in flight.
func (r *Registry) ListTraining() []Session {
	return r.filter(Session.Training)
}

// ListIdle returns sessions without a round in flight.
func (r *Registry) ListIdle() []Session {
	return r.filter(func(s Session) bool { return !s.Training() })
}

// ListStaleSince returns the ids of sessions inactive for longer than threshold.
func (r *Registry) ListStaleSince(threshold time.Duration) []string {
	now := r.now()
	stale := r.filter(func(s Session) bool {
		return now.Sub(s.LastActive) > threshold
	})

	ids := make([]string, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}

	return ids
}

func (r *Registry) Summary() Summary {
	now := r.now()
	all := r.List()

	sum := Summary{
		Total: len(all),
		Peers: make([]SummaryRow, 0, len(all)),
	}
	for _, s := range all {
		if s.Training() {
			sum.Training++
		} else {
			sum.Idle++
		}
		sum.Peers = append(sum.Peers, SummaryRow{
			ID:           s.ID,
			State:        s.State,
			Round:        s.Round,
			Progress:     s.Progress,
			ConnectedFor: now.Sub(s.ConnectedAt).Round(time.Second).String(),
		})
	}

	return sum
}

// Send routes msg to the peer's connection. The connection is looked up
// under the read lock and used after it is released.
func (r *Registry) Send(ctx context.Context, id string, msg message.Message) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	var conn Conn
	if ok {
		conn = e.conn
	}
	r.mu.RUnlock()

	if !ok || conn == nil {
		return pkgerrors.ErrPeerNotFound
	}

	return conn.Send(ctx, msg)
}

// Clear removes every session and returns their connections.
func (r *Registry) Clear() map[string]Conn {
	r.mu.Lock()
	conns := make(map[string]Conn, len(r.sessions))
	for id, e := range r.sessions {
		conns[id] = e.conn
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	return conns
}

// filter snapshots matching sessions under the read lock and sorts them after.
func (r *Registry) filter(keep func(Session) bool) []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		if keep(e.sess) {
			out = append(out, copySession(e.sess))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		return strings.Compare(a.ID, b.ID)
	})

	return out
}

func copySession(s Session) Session {
	s.Parameters = weights.Clone(s.Parameters)

	return s
}
