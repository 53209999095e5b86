package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	roundsEndpoint   = "/rounds"
	trainingEndpoint = "/training"
)

type Evaluation struct {
	Loss       float64 `json:"loss"`
	Accuracy   float64 `json:"accuracy"`
	NumSamples int     `json:"total_samples"`
	NumClients int     `json:"num_clients"`
}

type Round struct {
	Number       int               `json:"round"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Participants []string          `json:"participants"`
	Contributors []string          `json:"contributors"`
	Failures     map[string]string `json:"failures,omitempty"`
	NumSamples   int               `json:"total_samples"`
	Metrics      map[string]any    `json:"metrics,omitempty"`
	Evaluation   *Evaluation       `json:"evaluation,omitempty"`
	Aggregated   bool              `json:"aggregated"`
	Error        string            `json:"error,omitempty"`
}

type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}

type TrainingConfig struct {
	NumRounds    int     `json:"num_rounds,omitempty"`
	MinAvailable int     `json:"min_available,omitempty"`
	MinFit       int     `json:"min_fit,omitempty"`
	MinEvaluate  int     `json:"min_evaluate,omitempty"`
	Epochs       int     `json:"epochs,omitempty"`
	BatchSize    int     `json:"batch_size,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	ModelVariant string  `json:"model_variant,omitempty"`
}

type TrainingStatus struct {
	State      string      `json:"state"`
	Round      int         `json:"round"`
	NumRounds  int         `json:"num_rounds"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Error      string      `json:"error,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

func (sdk *fedSDK) ListRounds(offset, limit uint64) (RoundPage, error) {
	url := sdk.hubURL + roundsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return RoundPage{}, err
	}

	var rp RoundPage
	if err := json.Unmarshal(body, &rp); err != nil {
		return RoundPage{}, err
	}

	return rp, nil
}

func (sdk *fedSDK) GetRound(number int) (Round, error) {
	url := fmt.Sprintf("%s%s/%d", sdk.hubURL, roundsEndpoint, number)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Round{}, err
	}

	var r Round
	if err := json.Unmarshal(body, &r); err != nil {
		return Round{}, err
	}

	return r, nil
}

func (sdk *fedSDK) StartTraining(cfg TrainingConfig) (TrainingStatus, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return TrainingStatus{}, err
	}

	url := sdk.hubURL + trainingEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusAccepted)
	if err != nil {
		return TrainingStatus{}, err
	}

	var s TrainingStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return TrainingStatus{}, err
	}

	return s, nil
}

func (sdk *fedSDK) TrainingStatus() (TrainingStatus, error) {
	url := sdk.hubURL + trainingEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return TrainingStatus{}, err
	}

	var s TrainingStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return TrainingStatus{}, err
	}

	return s, nil
}

func (sdk *fedSDK) StopTraining() error {
	url := sdk.hubURL + trainingEndpoint

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}
