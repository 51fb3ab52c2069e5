package cyclecount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olgkv/cyclecount/internal/domain"
)

// Readiness decides whether the counted assets are enough to complete a task.
type Readiness func(assets []domain.Asset) bool

// AllCounted requires every asset to be counted. A task without assets is ready.
func AllCounted(assets []domain.Asset) bool {
	for _, a := range assets {
		if !a.Counted {
			return false
		}
	}
	return true
}

// AnyCounted requires at least one counted asset.
func AnyCounted(assets []domain.Asset) bool {
	return AtLeast(1)(assets)
}

// AtLeast requires n or more counted assets.
func AtLeast(n int) Readiness {
	return func(assets []domain.Asset) bool {
		return countCounted(assets) >= n
	}
}

// MinFraction requires the counted share of assets to reach f (0..1).
func MinFraction(f float64) Readiness {
	return func(assets []domain.Asset) bool {
		if len(assets) == 0 {
			return true
		}
		return float64(countCounted(assets)) >= f*float64(len(assets))
	}
}

// ParseReadiness reads a policy name: "all", "any", "at_least:N" or "fraction:F".
func ParseReadiness(policy string) (Readiness, error) {
	name, arg, _ := strings.Cut(strings.ToLower(strings.TrimSpace(policy)), ":")
	switch name {
	case "", "all":
		return AllCounted, nil
	case "any":
		return AnyCounted, nil
	case "at_least":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("readiness %q: expected non-negative count", policy)
		}
		return AtLeast(n), nil
	case "fraction":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("readiness %q: expected fraction in [0,1]", policy)
		}
		return MinFraction(f), nil
	}
	return nil, fmt.Errorf("unknown readiness policy %q", policy)
}

func countCounted(assets []domain.Asset) int {
	n := 0
	for _, a := range assets {
		if a.Counted {
			n++
		}
	}
	return n
}
