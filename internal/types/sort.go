package types

import "sort"

// CompareTasks implements the canonical child ordering: done tasks last,
// then priorityScore descending, then createdAt ascending, with ID as the
// final tiebreak so the order is total and stable across reads.
func CompareTasks(a, b *Task) int {
	aDone := a.Status == StatusDone
	bDone := b.Status == StatusDone
	if aDone != bDone {
		if aDone {
			return 1
		}
		return -1
	}
	if a.PriorityScore != b.PriorityScore {
		if a.PriorityScore > b.PriorityScore {
			return -1
		}
		return 1
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// SortTasks orders a slice in place by the canonical child ordering.
func SortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return CompareTasks(tasks[i], tasks[j]) < 0
	})
}
