package api

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000

	defaultTimeseriesHours = 24
	maxTimeseriesHours     = 24 * 30
)

// Pagination holds parsed limit/offset values.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit and offset from query parameters.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: defaultPageLimit, Offset: 0}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("limit: must be a non-negative integer")
		}
		if n > maxPageLimit {
			return p, fmt.Errorf("limit: must be <= %d", maxPageLimit)
		}
		if n > 0 {
			p.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset: must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}

// ParseHours reads the hours window for timeseries queries.
func ParseHours(r *http.Request) (int, error) {
	v := r.URL.Query().Get("hours")
	if v == "" {
		return defaultTimeseriesHours, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("hours: must be a positive integer")
	}
	if n > maxTimeseriesHours {
		return 0, fmt.Errorf("hours: must be <= %d", maxTimeseriesHours)
	}
	return n, nil
}
