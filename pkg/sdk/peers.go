package sdk

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	peersEndpoint   = "/peers"
	summaryEndpoint = "/summary"
)

type Peer struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	Round       int       `json:"round"`
	Progress    float64   `json:"progress"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
}

type PeerPage struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Total  uint64 `json:"total"`
	Peers  []Peer `json:"peers"`
}

type Summary struct {
	Total    int          `json:"total_clients"`
	Training int          `json:"training_clients"`
	Idle     int          `json:"available_clients"`
	Peers    []SummaryRow `json:"clients"`
}

type SummaryRow struct {
	ID           string  `json:"id"`
	State        string  `json:"state"`
	Round        int     `json:"round"`
	Progress     float64 `json:"progress"`
	ConnectedFor string  `json:"connected_for"`
}

func (sdk *fedSDK) ListPeers(offset, limit uint64) (PeerPage, error) {
	url := sdk.hubURL + peersEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return PeerPage{}, err
	}

	var p PeerPage
	if err := json.Unmarshal(body, &p); err != nil {
		return PeerPage{}, err
	}

	return p, nil
}

func (sdk *fedSDK) GetPeer(id string) (Peer, error) {
	url := sdk.hubURL + peersEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Peer{}, err
	}

	var p Peer
	if err := json.Unmarshal(body, &p); err != nil {
		return Peer{}, err
	}

	return p, nil
}

func (sdk *fedSDK) DisconnectPeer(id string) error {
	url := sdk.hubURL + peersEndpoint + "/" + id

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}

func (sdk *fedSDK) Summary() (Summary, error) {
	url := sdk.hubURL + summaryEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	if err := json.Unmarshal(body, &s); err != nil {
		return Summary{}, err
	}

	return s, nil
}
