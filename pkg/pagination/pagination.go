// Package pagination pages in-memory listings for the edge API.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Params is a page request. The zero value means "everything".
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// FromRequest reads page and per_page from the query string. Without either
// parameter the whole listing is returned on one page. Invalid values fall
// back to the defaults; per_page is capped at 100.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	if !q.Has("page") && !q.Has("per_page") {
		return Params{}
	}

	p := Params{Page: 1, PerPage: defaultPerPage}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 {
		p.PerPage = min(v, maxPerPage)
	}
	return p
}

// Result is one page of a listing.
type Result[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Apply cuts the requested page out of items. A page past the end is empty.
func Apply[T any](items []T, p Params) Result[T] {
	total := len(items)
	if p.PerPage <= 0 {
		if items == nil {
			items = []T{}
		}
		return Result[T]{Items: items, TotalCount: total, Page: 1, PerPage: total, TotalPages: 1}
	}

	p.Page = max(p.Page, 1)
	totalPages := (total + p.PerPage - 1) / p.PerPage
	// Compare pages before multiplying; a huge page would overflow the offset.
	start := total
	if p.Page <= totalPages {
		start = (p.Page - 1) * p.PerPage
	}
	end := min(start+p.PerPage, total)

	return Result[T]{
		Items:      append([]T{}, items[start:end]...),
		TotalCount: total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
		HasPrev:    p.Page > 1,
	}
}
