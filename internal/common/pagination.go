package common

import (
	"math"
	"net/http"
)

// Page is a 1-based page window parsed from ?page=&limit=.
type Page struct {
	Number int
	Size   int
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// ParsePage reads page and limit. Limits above maxSize are clamped to it.
func ParsePage(r *http.Request, defaultSize, maxSize int) Page {
	size := QueryInt(r, "limit", defaultSize, 1, math.MaxInt32)
	if size > maxSize {
		size = maxSize
	}
	return Page{
		Number: QueryInt(r, "page", 1, 1, math.MaxInt32),
		Size:   size,
	}
}

// Pagination is the list metadata returned next to "data".
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination builds the metadata for p given the total row count.
func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return Pagination{Page: p.Number, PerPage: p.Size, TotalItems: total, TotalPages: pages}
}
