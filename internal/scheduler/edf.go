package scheduler

import "container/heap"

// edfQueue orders tasks by absolute deadline (spec §4.2 EDF intake). A real
// lock-free priority structure is out of reach of container/heap, so the
// scheduler guards this heap with its own mutex instead; the heap is only
// ever touched by Submit (push) and the single dispatcher goroutine (pop),
// which keeps the critical sections O(log n) and short.
type edfQueue []*Task

func (q edfQueue) Len() int            { return len(q) }
func (q edfQueue) Less(i, j int) bool  { return q[i].Deadline.Before(q[j].Deadline) }
func (q edfQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].heapIdx = i; q[j].heapIdx = j }
func (q *edfQueue) Push(x interface{}) {
	t := x.(*Task)
	t.heapIdx = len(*q)
	*q = append(*q, t)
}
func (q *edfQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *edfQueue) pushTask(t *Task) { heap.Push(q, t) }
func (q *edfQueue) popTask() *Task   { return heap.Pop(q).(*Task) }
func (q edfQueue) peekTask() (*Task, bool) {
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}
