package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const CTJSON string = "application/json"

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type SDK interface {
	// ListPeers lists connected peers.
	//
	// example:
	//  page, _ := sdk.ListPeers(0, 10)
	//  fmt.Println(page)
	ListPeers(offset, limit uint64) (PeerPage, error)

	// GetPeer gets a connected peer by id.
	//
	// example:
	//  peer, _ := sdk.GetPeer("phone-1")
	//  fmt.Println(peer)
	GetPeer(id string) (Peer, error)

	// DisconnectPeer closes the peer's connection and aborts its
	// outstanding requests.
	//
	// example:
	//  _ := sdk.DisconnectPeer("phone-1")
	DisconnectPeer(id string) error

	// Summary returns peer totals and a row per peer.
	//
	// example:
	//  summary, _ := sdk.Summary()
	//  fmt.Println(summary.Training)
	Summary() (Summary, error)

	// ListRounds lists the rounds of the latest training run.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page)
	ListRounds(offset, limit uint64) (RoundPage, error)

	// GetRound gets a round record by number.
	//
	// example:
	//  round, _ := sdk.GetRound(1)
	//  fmt.Println(round.Evaluation)
	GetRound(number int) (Round, error)

	// StartTraining starts a training run. Zero fields take hub defaults.
	//
	// example:
	//  status, _ := sdk.StartTraining(sdk.TrainingConfig{NumRounds: 5})
	//  fmt.Println(status.State)
	StartTraining(cfg TrainingConfig) (TrainingStatus, error)

	// TrainingStatus returns the state of the current or last run.
	TrainingStatus() (TrainingStatus, error)

	// StopTraining cancels the running training run.
	StopTraining() error
}

type fedSDK struct {
	hubURL string
	client *http.Client
}

type Config struct {
	HubURL          string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		hubURL: strings.TrimSuffix(cfg.HubURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return []byte{}, fmt.Errorf("unexpected response code %d: %s", resp.StatusCode, e.Error)
		}

		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
