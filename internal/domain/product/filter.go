package product

import "strings"

// Paging bounds applied by ListFilter.Normalize.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListFilter narrows a catalog listing. Empty fields do not filter.
type ListFilter struct {
	StoreID  string
	Category string
	// Search matches name, description, category and brand case-insensitively.
	Search     string
	ActiveOnly bool
	Page       int
	Limit      int
}

// Normalize trims text filters and clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	f.StoreID = strings.TrimSpace(f.StoreID)
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.TrimSpace(f.Search)
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}

// Offset returns the number of rows skipped for the filter's page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of a listing together with the unpaged total.
type Page struct {
	Items []Product
	Total int
	Page  int
	Limit int
}

// Pages returns the number of pages needed for Total.
func (p Page) Pages() int {
	if p.Limit == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
