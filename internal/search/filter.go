// Package search filters a task's assets by a free-text term.
package search

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/olgkv/cyclecount/internal/domain"
)

// Filter returns the assets whose name or barcode contains query, ignoring
// case. The relative order of assets is preserved and the input is never
// modified. A blank query matches every asset.
func Filter(assets []domain.Asset, query string) []domain.Asset {
	out := make([]domain.Asset, 0, len(assets))

	query = strings.TrimSpace(query)
	if query == "" {
		return append(out, assets...)
	}

	// Caser keeps internal state, so each call gets its own.
	fold := cases.Fold()
	needle := fold.String(query)

	for _, a := range assets {
		if matches(fold, a.Name, needle) || matches(fold, a.Barcode, needle) {
			out = append(out, a)
		}
	}
	return out
}

// ByStatus keeps counted or pending assets. Any other status keeps everything.
func ByStatus(assets []domain.Asset, status string) []domain.Asset {
	out := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		switch status {
		case "counted":
			if !a.Counted {
				continue
			}
		case "pending":
			if a.Counted {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

func matches(fold cases.Caser, field, needle string) bool {
	if field == "" {
		return false
	}
	return strings.Contains(fold.String(field), needle)
}
