package extension

import "sort"

// SortByPriority orders items by ascending priority, breaking ties by id.
// The order is the same regardless of how items were collected.
func SortByPriority[T any](items []T, key func(T) (priority int, id string)) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, idi := key(items[i])
		pj, idj := key(items[j])
		if pi != pj {
			return pi < pj
		}
		return idi < idj
	})
}
