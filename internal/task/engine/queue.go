package engine

import "container/heap"

type queued struct {
	job *Job
	seq uint64
}

// jobQueue implements heap.Interface as a max-priority queue.
// Equal priorities pop in submission order.
type jobQueue []queued

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].job.priority != q[j].job.priority {
		return Before(q[i].job, q[j].job)
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

// Push is called by heap.Push; use push instead.
func (q *jobQueue) Push(x any) { *q = append(*q, x.(queued)) }

// Pop is called by heap.Pop; use pop instead.
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = queued{} // avoid memory leak
	*q = old[:n-1]
	return it
}

func newJobQueue(capacity int) *jobQueue {
	if capacity <= 0 {
		capacity = 16
	}
	q := make(jobQueue, 0, capacity)
	return &q
}

func (q *jobQueue) push(j *Job, seq uint64) { heap.Push(q, queued{job: j, seq: seq}) }

func (q *jobQueue) pop() *Job { return heap.Pop(q).(queued).job }

// peekPriority returns the current maximum priority. The queue must not be empty.
func (q *jobQueue) peekPriority() int { return (*q)[0].job.priority }

// countAt counts queued jobs holding priority p.
func (q *jobQueue) countAt(p int) int {
	n := 0
	for _, it := range *q {
		if it.job.priority == p {
			n++
		}
	}
	return n
}

// popTier removes every job at the current maximum priority.
func (q *jobQueue) popTier() (int, []*Job) {
	if q.Len() == 0 {
		return 0, nil
	}
	p := q.peekPriority()
	k := q.countAt(p)
	tier := make([]*Job, 0, k)
	for i := 0; i < k; i++ {
		tier = append(tier, q.pop())
	}
	return p, tier
}

// drain removes every queued job in priority order.
func (q *jobQueue) drain() []*Job {
	out := make([]*Job, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
