package domain

import "math"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	DefaultSort     = "login"
)

// SortKeys are the station columns a listing may be ordered by.
var SortKeys = map[string]bool{"login": true, "ip": true, "port": true, "state": true, "id": true}

// PageRequest is 1-based.
type PageRequest struct {
	Page int
	Size int
	Sort string
}

// Normalize applies defaults and clamps out-of-range values.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 || p.Size > MaxPageSize {
		p.Size = DefaultPageSize
	}
	p.Page = ClampPage(p.Page, p.Size)
	if !SortKeys[p.Sort] {
		p.Sort = DefaultSort
	}
	return p
}

// ClampPage bounds a 1-based page number so its offset fits in an int.
func ClampPage(page, size int) int {
	if size > 0 && page > math.MaxInt/size {
		return math.MaxInt / size
	}
	return page
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Size
}

type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

func (p Page[T]) TotalPages() int {
	if p.PageSize == 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}
