package scheduler

import "container/heap"

// requestQueue is a max-heap over pending requests. Normal requests always
// dispatch before preload-tier requests; within a tier higher priority wins
// and ties break by enqueue order for deterministic dispatch.
type requestQueue []*request

var _ heap.Interface = (*requestQueue)(nil)

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.preload != b.preload {
		return !a.preload
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *requestQueue) Push(x any) {
	req := x.(*request)
	req.heapIndex = len(*q)
	*q = append(*q, req)
}

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.heapIndex = -1
	*q = old[:n-1]
	return req
}
