package pagination

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name                string
		total, size, page   int
		wantPages, wantPage int
		wantPrev, wantNext  bool
	}{
		{"empty set", 0, 10, 1, 1, 1, false, false},
		{"exact multiple", 20, 10, 2, 2, 2, true, false},
		{"partial last page", 25, 10, 1, 3, 1, false, true},
		{"middle page", 25, 10, 2, 3, 2, true, true},
		{"page above range clamped", 25, 10, 9, 3, 3, true, false},
		{"page below range clamped", 25, 10, -4, 3, 1, false, true},
		{"zero page clamped", 5, 10, 0, 1, 1, false, false},
		{"non-positive size treated as one", 3, 0, 2, 3, 2, true, true},
		{"negative total treated as zero", -5, 10, 3, 1, 1, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := Derive(tc.total, tc.size, tc.page)
			assert.Equal(t, tc.wantPages, p.TotalPages, "total pages")
			assert.Equal(t, tc.wantPage, p.Current, "current page")
			assert.Equal(t, tc.wantPrev, p.CanGoPrevious, "can go previous")
			assert.Equal(t, tc.wantNext, p.CanGoNext, "can go next")
		})
	}
}

func TestDerive_HugeTotalDoesNotOverflow(t *testing.T) {
	p := Derive(math.MaxInt, 2, 5)
	assert.Equal(t, math.MaxInt/2+1, p.TotalPages)
	assert.Equal(t, 5, p.Current)
	assert.True(t, p.CanGoNext)

	p = Derive(math.MaxInt, math.MaxInt, 1)
	assert.Equal(t, 1, p.TotalPages)
}

func TestDerive_BoundsHoldForAllInputs(t *testing.T) {
	for total := 0; total <= 60; total++ {
		for size := 1; size <= 12; size++ {
			for page := -2; page <= 70; page += 3 {
				p := Derive(total, size, page)
				if p.TotalPages < 1 {
					t.Fatalf("Derive(%d,%d,%d): total pages %d < 1", total, size, page, p.TotalPages)
				}
				if p.Current < 1 || p.Current > p.TotalPages {
					t.Fatalf("Derive(%d,%d,%d): page %d outside [1,%d]", total, size, page, p.Current, p.TotalPages)
				}
			}
		}
	}
}

func TestNavigation_StaysInRange(t *testing.T) {
	current := 1
	nav := func() Page { return Derive(25, 10, current) }

	current = nav().Previous()
	assert.Equal(t, 1, current, "previous on first page is a no-op")

	current = nav().Next()
	current = nav().Next()
	assert.Equal(t, 3, current)

	current = nav().Next()
	assert.Equal(t, 3, current, "next on last page is a no-op")
}

func TestGoTo_Clamps(t *testing.T) {
	p := Derive(25, 10, 2)
	for requested, want := range map[int]int{-1: 1, 0: 1, 1: 1, 2: 2, 3: 3, 4: 3, 100: 3} {
		assert.Equal(t, want, p.GoTo(requested), "GoTo(%d)", requested)
	}
}

func TestWindow(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	assert.Equal(t, []int{1, 2, 3}, Window(items, Derive(len(items), 3, 1)))
	assert.Equal(t, []int{7}, Window(items, Derive(len(items), 3, 3)))
	assert.Empty(t, Window([]int{}, Derive(0, 3, 1)))
}

func TestWindow_AppendDoesNotClobberSource(t *testing.T) {
	items := []int{1, 2, 3, 4}
	w := Window(items, Derive(len(items), 2, 1))
	_ = append(w, 99)
	assert.Equal(t, 3, items[2])
}
