package api

import (
	"net/http"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/pkg/fl"
	"github.com/absmach/fedmob/session"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*peerResponse)(nil)
	_ supermq.Response = (*listPeersResponse)(nil)
	_ supermq.Response = (*summaryResponse)(nil)
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*statusResponse)(nil)
)

type peerResponse struct {
	session.Session
	deleted bool
}

func (p peerResponse) Code() int {
	if p.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (p peerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (p peerResponse) Empty() bool {
	return p.deleted
}

type listPeersResponse struct {
	session.Page
}

func (l listPeersResponse) Code() int {
	return http.StatusOK
}

func (l listPeersResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listPeersResponse) Empty() bool {
	return false
}

type summaryResponse struct {
	session.Summary
}

func (s summaryResponse) Code() int {
	return http.StatusOK
}

func (s summaryResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s summaryResponse) Empty() bool {
	return false
}

type roundResponse struct {
	fl.Round
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	fl.RoundPage
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

type statusResponse struct {
	coordinator.Status
	started bool
	stopped bool
}

func (s statusResponse) Code() int {
	switch {
	case s.started:
		return http.StatusAccepted
	case s.stopped:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}

func (s statusResponse) Headers() map[string]string {
	if s.started {
		return map[string]string{
			"Location": "/training",
		}
	}

	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return s.stopped
}
