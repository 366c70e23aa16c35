package twin

import (
	"maps"
	"slices"

	"github.com/sakif/keno-client/internal/model"
)

// payouts maps picks → matches → multiplier.
var payouts = map[int]map[int]int{
	1:  {1: 3},
	2:  {2: 12},
	3:  {2: 1, 3: 40},
	4:  {2: 1, 3: 4, 4: 100},
	5:  {3: 2, 4: 15, 5: 300},
	6:  {3: 1, 4: 5, 5: 60, 6: 1000},
	7:  {4: 2, 5: 15, 6: 150, 7: 2500},
	8:  {5: 8, 6: 40, 7: 400, 8: 10000},
	9:  {5: 4, 6: 20, 7: 100, 8: 2000, 9: 25000},
	10: {0: 2, 5: 2, 6: 10, 7: 50, 8: 500, 9: 5000, 10: 50000},
}

// Table returns the payout rows ordered by picks, then matches.
func (t *Twin) Table() []model.HitRecord {
	var rows []model.HitRecord
	for _, selected := range slices.Sorted(maps.Keys(payouts)) {
		for _, matched := range slices.Sorted(maps.Keys(payouts[selected])) {
			rows = append(rows, model.HitRecord{Selected: selected, Matched: matched, Rate: payouts[selected][matched]})
		}
	}
	return rows
}

func rate(selected, matched int) int {
	return payouts[selected][matched]
}

// drawLocked picks n distinct numbers from 1..size, sorted.
func (t *Twin) drawLocked(n, size int) []int {
	perm := t.rng.Perm(size)[:n]
	out := make([]int, n)
	for i, v := range perm {
		out[i] = v + 1
	}
	slices.Sort(out)
	return out
}
