// Package pagination turns an item count into a bounded page window.
//
// Out-of-range pages are clamped rather than rejected: a request for page 7
// of 3 shows page 3. Nothing here keeps state between calls; the caller owns
// the current page and applies the values returned.
package pagination

type Page struct {
	TotalItems    int  `json:"total_items"`
	PageSize      int  `json:"page_size"`
	TotalPages    int  `json:"total_pages"`
	Current       int  `json:"page"`
	CanGoPrevious bool `json:"can_go_previous"`
	CanGoNext     bool `json:"can_go_next"`
}

// Derive computes the page window. A non-positive pageSize is treated as 1
// and a negative totalItems as 0.
func Derive(totalItems, pageSize, currentPage int) Page {
	if pageSize < 1 {
		pageSize = 1
	}
	if totalItems < 0 {
		totalItems = 0
	}

	totalPages := totalItems / pageSize
	if totalItems%pageSize != 0 {
		totalPages++
	}
	if totalPages < 1 {
		totalPages = 1
	}

	current := clamp(currentPage, totalPages)
	return Page{
		TotalItems:    totalItems,
		PageSize:      pageSize,
		TotalPages:    totalPages,
		Current:       current,
		CanGoPrevious: current > 1,
		CanGoNext:     current < totalPages,
	}
}

// GoTo returns the page to show for a navigation request, always within
// [1, TotalPages].
func (p Page) GoTo(requested int) int {
	return clamp(requested, p.TotalPages)
}

// Previous returns the previous page, or the current one on the first page.
func (p Page) Previous() int {
	if !p.CanGoPrevious {
		return p.Current
	}
	return p.Current - 1
}

// Next returns the next page, or the current one on the last page.
func (p Page) Next() int {
	if !p.CanGoNext {
		return p.Current
	}
	return p.Current + 1
}

// Offset is the index of the first item on the current page.
func (p Page) Offset() int {
	return (p.Current - 1) * p.PageSize
}

// Window returns the items that belong to page p.
func Window[T any](items []T, p Page) []T {
	start := p.Offset()
	if start >= len(items) {
		return items[:0:0]
	}
	end := start + p.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end:end]
}

func clamp(page, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}
