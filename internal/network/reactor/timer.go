package reactor

import (
	"container/heap"
	"time"
)

// timerHeap 为按 deadline 排序的最小堆。
type timerHeap []*Event

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// schedule 将 ev 放入堆中，已在堆中时调整位置。
func (h *timerHeap) schedule(ev *Event, deadline time.Time) {
	ev.deadline = deadline
	if ev.index >= 0 && ev.index < len(*h) && (*h)[ev.index] == ev {
		heap.Fix(h, ev.index)
		return
	}
	heap.Push(h, ev)
}

func (h *timerHeap) remove(ev *Event) {
	if ev.index >= 0 && ev.index < len(*h) && (*h)[ev.index] == ev {
		heap.Remove(h, ev.index)
	}
	ev.index = -1
}

// next 返回最早的 deadline。
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].deadline, true
}

// expire 弹出所有 deadline 不晚于 now 的事件。
func (h *timerHeap) expire(now time.Time, out []*Event) []*Event {
	for len(*h) > 0 && !(*h)[0].deadline.After(now) {
		out = append(out, heap.Pop(h).(*Event))
	}
	return out
}
