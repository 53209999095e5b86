package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
)

// State is the lifecycle state of a peer session.
type State uint8

const (
	// Ready means the peer is connected but no training engine is attached.
	Ready State = iota
	// ActiveSession means a training run has attached the peer and it is
	// waiting for the next round.
	ActiveSession
	// Training means a round is in flight on the peer.
	Training
	// Completed means the training run the peer was attached to has finished.
	Completed
)

const (
	readyStr     = "ready"
	activeStr    = "active"
	trainingStr  = "training"
	completedStr = "completed"
	unknownStr   = "unknown"
)

func (s State) String() string {
	switch s {
	case Ready:
		return readyStr
	case ActiveSession:
		return activeStr
	case Training:
		return trainingStr
	case Completed:
		return completedStr
	default:
		return unknownStr
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case readyStr:
		*s = Ready
	case activeStr:
		*s = ActiveSession
	case trainingStr:
		*s = Training
	case completedStr:
		*s = Completed
	default:
		return fmt.Errorf("unknown session state %q", str)
	}

	return nil
}

// Conn is the outbound half of a peer's transport connection. Send must not
// block the caller on network I/O; see Outbox.
type Conn interface {
	Send(ctx context.Context, msg message.Message) error
	Close() error
}

// Session is a point-in-time copy of a peer's record. It never aliases the
// registry's internal state.
type Session struct {
	ID          string           `json:"id"`
	State       State            `json:"state"`
	Round       int              `json:"round"`
	Progress    float64          `json:"progress"`
	ConnectedAt time.Time        `json:"connected_at"`
	LastActive  time.Time        `json:"last_active"`
	Parameters  []weights.Tensor `json:"-"`
}

// Training reports whether a round is in flight on the peer.
func (s Session) Training() bool {
	return s.State == Training
}

// Page is one slice of the registry listing.
type Page struct {
	Offset   uint64    `json:"offset"`
	Limit    uint64    `json:"limit"`
	Total    uint64    `json:"total"`
	Sessions []Session `json:"peers"`
}

// Summary aggregates registry counts for health reporting.
type Summary struct {
	Total    int          `json:"total_clients"`
	Training int          `json:"training_clients"`
	Idle     int          `json:"available_clients"`
	Peers    []SummaryRow `json:"clients"`
}

// SummaryRow describes one peer in a Summary.
type SummaryRow struct {
	ID           string  `json:"id"`
	State        State   `json:"state"`
	Round        int     `json:"round"`
	Progress     float64 `json:"progress"`
	ConnectedFor string  `json:"connected_for"`
}
