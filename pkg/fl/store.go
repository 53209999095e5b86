package fl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/fxamacker/cbor/v2"
)

const (
	roundsPrefix = "rounds/"
	modelsPrefix = "models/"
)

var modelDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return dm
}()

// Store persists round records as JSON and aggregated models as CBOR.
type Store struct {
	storage storage.Storage
}

func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

func (s *Store) SaveRound(ctx context.Context, r Round) error {
	key, err := roundKey(r.Number)
	if err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}

	return s.storage.Put(ctx, key, data)
}

func (s *Store) Round(ctx context.Context, number int) (Round, error) {
	key, err := roundKey(number)
	if err != nil {
		return Round{}, err
	}

	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return Round{}, err
	}

	var r Round
	if err := json.Unmarshal(data, &r); err != nil {
		return Round{}, fmt.Errorf("failed to unmarshal round: %w", err)
	}

	return r, nil
}

func (s *Store) ListRounds(ctx context.Context, offset, limit uint64) (RoundPage, error) {
	entries, total, err := s.storage.List(ctx, roundsPrefix, offset, limit)
	if err != nil {
		return RoundPage{}, err
	}

	page := RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: make([]Round, 0, len(entries)),
	}
	for _, e := range entries {
		var r Round
		if err := json.Unmarshal(e.Value, &r); err != nil {
			return RoundPage{}, fmt.Errorf("failed to unmarshal round %s: %w", e.Key, err)
		}
		page.Rounds = append(page.Rounds, r)
	}

	return page, nil
}

func (s *Store) SaveModel(ctx context.Context, m Model) error {
	key, err := modelKey(m.Round)
	if err != nil {
		return err
	}

	data, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	return s.storage.Put(ctx, key, data)
}

func (s *Store) Model(ctx context.Context, round int) (Model, error) {
	key, err := modelKey(round)
	if err != nil {
		return Model{}, err
	}

	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return Model{}, err
	}

	return decodeModel(data)
}

// LatestModel returns the model of the highest stored round.
func (s *Store) LatestModel(ctx context.Context) (Model, error) {
	_, total, err := s.storage.List(ctx, modelsPrefix, 0, 0)
	if err != nil {
		return Model{}, err
	}
	if total == 0 {
		return Model{}, pkgerrors.ErrNotFound
	}

	entries, _, err := s.storage.List(ctx, modelsPrefix, total-1, 1)
	if err != nil {
		return Model{}, err
	}
	if len(entries) == 0 {
		return Model{}, pkgerrors.ErrNotFound
	}

	return decodeModel(entries[0].Value)
}

func decodeModel(data []byte) (Model, error) {
	var m Model
	if err := modelDecMode.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("failed to unmarshal model: %w", err)
	}

	return m, nil
}

// Keys are zero padded so lexical order matches round order.
func roundKey(n int) (string, error) {
	if n < 1 {
		return "", errors.Join(ErrInvalidRoundID, fmt.Errorf("round %d", n))
	}

	return fmt.Sprintf("%s%08d", roundsPrefix, n), nil
}

func modelKey(n int) (string, error) {
	if n < 0 {
		return "", errors.Join(ErrInvalidRoundID, fmt.Errorf("round %d", n))
	}

	return fmt.Sprintf("%s%08d", modelsPrefix, n), nil
}
