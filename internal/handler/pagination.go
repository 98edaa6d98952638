package handler

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// pageRequest is the limit/offset window read from the query string.
// Out-of-range values fall back to defaults instead of failing the request.
type pageRequest struct {
	Limit  int
	Offset int
}

func parsePage(r *http.Request) pageRequest {
	q := r.URL.Query()
	p := pageRequest{Limit: defaultPageLimit}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= maxPageLimit {
		p.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		p.Offset = offset
	}
	return p
}

type pageResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (p pageRequest) respond(items any, total int) pageResponse {
	return pageResponse{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
}
