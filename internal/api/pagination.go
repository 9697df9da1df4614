package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// PageParams holds parsed limit/offset query values. Zero Limit means the
// service default.
type PageParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePage extracts limit and offset from query params. Limits above
// maxLimit are capped; non-numeric or negative values are an error.
func ParsePage(r *http.Request, maxLimit int) (PageParams, error) {
	var p PageParams
	var err error
	if p.Limit, err = nonNegative(r, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = nonNegative(r, "offset"); err != nil {
		return p, err
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p, nil
}

func nonNegative(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
