package api

import (
	"errors"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/pkg/api"
	"github.com/absmach/fedmob/pkg/fl"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}

	return nil
}

type roundReq struct {
	round int
}

func (r *roundReq) validate() error {
	if r.round < 1 {
		return fl.ErrInvalidRoundID
	}

	return nil
}

type trainingReq struct {
	coordinator.Config `json:",inline"`
}

func (t *trainingReq) validate() error {
	if err := t.Config.Validate(); err != nil {
		return errors.Join(err, apiutil.ErrValidation)
	}

	return nil
}
