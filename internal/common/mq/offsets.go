package mq

import "sort"

// offsetTracker records fetched offsets of one partition and reports the highest
// offset below which every fetched message has been acknowledged. Committing past an
// unacknowledged offset would lose it on restart.
type offsetTracker struct {
	inflight []int64
	done     map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{done: make(map[int64]struct{})}
}

// track registers a freshly fetched offset.
func (t *offsetTracker) track(offset int64) {
	n := len(t.inflight)
	if n == 0 || t.inflight[n-1] < offset {
		t.inflight = append(t.inflight, offset)
		return
	}
	idx := sort.Search(n, func(i int) bool { return t.inflight[i] >= offset })
	if idx < n && t.inflight[idx] == offset {
		return
	}
	t.inflight = append(t.inflight, 0)
	copy(t.inflight[idx+1:], t.inflight[idx:])
	t.inflight[idx] = offset
}

// ack marks offset acknowledged and returns the offset that can now be committed.
// ok is false when the contiguous acknowledged prefix did not grow.
func (t *offsetTracker) ack(offset int64) (commit int64, ok bool) {
	t.done[offset] = struct{}{}
	for len(t.inflight) > 0 {
		head := t.inflight[0]
		if _, acked := t.done[head]; !acked {
			break
		}
		delete(t.done, head)
		t.inflight = t.inflight[1:]
		commit, ok = head, true
	}
	return commit, ok
}

func (t *offsetTracker) pending() int {
	return len(t.inflight)
}
